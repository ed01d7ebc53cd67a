package iso8583

// LengthType describes how a field's length is carried on the wire.
type LengthType int

const (
	// Fixed fields carry no length prefix; MaxLength is the exact length.
	Fixed LengthType = iota
	// LLVAR fields are prefixed with a 2-digit ASCII decimal length.
	LLVAR
	// LLLVAR fields are prefixed with a 3-digit ASCII decimal length.
	LLLVAR
)

// FieldDef describes one addressable field in a Spec.
type FieldDef struct {
	Number     int
	Name       string
	LengthType LengthType
	MaxLength  int
}

// Spec is a closed table of field definitions addressed by bitmap position.
// Field 0 (the MTI) and field 1 (the secondary-bitmap-presence indicator)
// are handled specially by Parse/Assemble and never appear in the table.
type Spec struct {
	fields map[int]FieldDef
	byName map[string]int
}

func NewSpec(defs []FieldDef) *Spec {
	s := &Spec{
		fields: make(map[int]FieldDef, len(defs)),
		byName: make(map[string]int, len(defs)),
	}
	for _, d := range defs {
		s.fields[d.Number] = d
		s.byName[d.Name] = d.Number
	}
	return s
}

// DefaultSpec returns the field table used throughout the oracle: the
// ISO-8583 fields populated on authorization, reversal, and registration
// messages, plus field 127, which only the chain watcher populates on the
// authorization and reversal messages it synthesizes from on-chain events,
// carrying the event id. No field outside this table can be parsed or
// assembled.
func DefaultSpec() *Spec {
	return NewSpec([]FieldDef{
		{Number: 2, Name: "pan", LengthType: LLVAR, MaxLength: 19},
		{Number: 3, Name: "processing_code", LengthType: Fixed, MaxLength: 6},
		{Number: 4, Name: "amount", LengthType: Fixed, MaxLength: 20},
		{Number: 7, Name: "transmission_date_time", LengthType: Fixed, MaxLength: 10},
		{Number: 12, Name: "local_transaction_time", LengthType: Fixed, MaxLength: 6},
		{Number: 32, Name: "acquiring_institution_id", LengthType: LLVAR, MaxLength: 19},
		{Number: 35, Name: "track2_data", LengthType: LLVAR, MaxLength: 37},
		{Number: 39, Name: "response_code", LengthType: Fixed, MaxLength: 2},
		{Number: 126, Name: "private_data", LengthType: LLLVAR, MaxLength: 120},
		{Number: 127, Name: "event_id", LengthType: LLLVAR, MaxLength: 40},
	})
}

func (s *Spec) fieldByNumber(n int) (FieldDef, bool) {
	d, ok := s.fields[n]
	return d, ok
}

func (s *Spec) fieldByName(name string) (FieldDef, bool) {
	n, ok := s.byName[name]
	if !ok {
		return FieldDef{}, false
	}
	return s.fields[n], true
}
