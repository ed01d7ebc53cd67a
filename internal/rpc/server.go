// Package rpc exposes the oracle's JSON-RPC 2.0 surface under the
// "pcidss" namespace: pcidss.SubmitIso8583, pcidss.GetBankAccount,
// pcidss.GetTransactions, and the signature-gated pcidss.GetBatchBalances.
package rpc

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"go.uber.org/zap"

	"pcidss-oracle/pkg/logger"
)

// Registrar is invoked after an Approved 0810 registration response, to
// trigger the on-chain register extrinsic.
type Registrar interface {
	SubmitRegistration(ctx context.Context, accountIDHex string, nonce uint32) error
}

// Server wraps the gorilla/rpc JSON-RPC 2.0 codec bound to the "pcidss"
// service, served over HTTP via gorilla/mux.
type Server struct {
	httpServer *http.Server
	rpcServer  *rpc.Server
}

// NewServer builds the HTTP server. addr is e.g. ":8583".
func NewServer(addr string, service *Service) (*Server, error) {
	rpcServer := rpc.NewServer()
	rpcServer.RegisterCodec(json2.NewCodec(), "application/json")
	if err := rpcServer.RegisterService(service, "pcidss"); err != nil {
		return nil, err
	}

	router := mux.NewRouter()
	router.Handle("/rpc", rpcServer)

	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: router},
		rpcServer:  rpcServer,
	}, nil
}

// Run blocks serving HTTP until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("rpc server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return s.httpServer.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
