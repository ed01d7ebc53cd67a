package config

// OracleConfig is the root configuration for the oracle and the
// finality-submitter binaries. Fields are loaded from a TOML file via
// Load, with environment variables overriding file values and
// env-default values filling in when neither is set.
type OracleConfig struct {
	Database struct {
		Host             string `toml:"host" env:"PCIDSS_ORACLE_DB_HOST"`
		Port             string `toml:"port" env:"PCIDSS_ORACLE_DB_PORT" env-default:"5432"`
		User             string `toml:"user" env:"PCIDSS_ORACLE_DB_USER"`
		Password         string `toml:"password" env:"PCIDSS_ORACLE_DB_PASSWORD"`
		DB               string `toml:"db" env:"PCIDSS_ORACLE_DB_NAME"`
		SslMode          string `toml:"ssl_mode" env:"PCIDSS_ORACLE_DB_SSL_MODE" env-default:"disable"`
		MaxConns         int    `toml:"max_conns" env:"PCIDSS_ORACLE_DB_MAX_CONNS" env-default:"100"`
		MinConns         int    `toml:"min_conns" env:"PCIDSS_ORACLE_DB_MIN_CONNS" env-default:"5"`
		MaxConnLifetime  int    `toml:"max_conn_lifetime" env:"PCIDSS_ORACLE_DB_MAX_CONN_LIFETIME" env-default:"5"`
		MaxConnIdleTime  int    `toml:"max_conn_idle_time" env:"PCIDSS_ORACLE_DB_MAX_CONN_IDLE_TIME" env-default:"1"`
		EncryptionKeyHex string `toml:"encryption_key" env:"PCIDSS_ORACLE_DB_ENCRYPTION_KEY"`
	} `toml:"database"`

	Redis struct {
		Host     string `toml:"host" env:"PCIDSS_ORACLE_REDIS_HOST"`
		Port     string `toml:"port" env:"PCIDSS_ORACLE_REDIS_PORT" env-default:"6379"`
		Password string `toml:"password" env:"PCIDSS_ORACLE_REDIS_PASSWORD"`
		DB       int    `toml:"db" env:"PCIDSS_ORACLE_REDIS_DB" env-default:"0"`
	} `toml:"redis"`

	Chain struct {
		Endpoint     string `toml:"endpoint" env:"PCIDSS_ORACLE_CHAIN_ENDPOINT"`
		SignerSeed   string `toml:"signer_seed" env:"PCIDSS_ORACLE_CHAIN_SIGNER_SEED"`
		OCWSignerHex string `toml:"ocw_signer" env:"PCIDSS_ORACLE_CHAIN_OCW_SIGNER"`
	} `toml:"chain"`

	RPC struct {
		Port int  `toml:"port" env:"PCIDSS_ORACLE_RPC_PORT" env-default:"8583"`
		Dev  bool `toml:"dev" env:"PCIDSS_ORACLE_DEV" env-default:"false"`
	} `toml:"rpc"`
}
