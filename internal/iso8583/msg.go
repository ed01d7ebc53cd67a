package iso8583

import "sort"

// Msg is a bitmap-addressed ISO-8583 message: a message type indicator
// (field 0) plus a sparse set of numbered data fields. Field values are
// held as their on-the-wire ASCII representation — fixed-width fields are
// expected to already be zero-padded by the caller before Set/SetOn.
type Msg struct {
	spec   *Spec
	mti    string
	fields map[int]string
}

func NewMsg(spec *Spec, mti string) *Msg {
	return &Msg{
		spec:   spec,
		mti:    mti,
		fields: make(map[int]string),
	}
}

func (m *Msg) MTI() string {
	return m.mti
}

func (m *Msg) SetMTI(mti string) {
	m.mti = mti
}

// GetOn returns the raw value stored at the given field number.
func (m *Msg) GetOn(fieldNo int) (string, bool) {
	v, ok := m.fields[fieldNo]
	return v, ok
}

// SetOn stores v under the given field number. The field must be declared
// in the message's Spec.
func (m *Msg) SetOn(fieldNo int, v string) error {
	if _, ok := m.spec.fieldByNumber(fieldNo); !ok {
		return newProtocolError("field %d is not defined in spec", fieldNo)
	}
	m.fields[fieldNo] = v
	return nil
}

// Get returns the value of the named field.
func (m *Msg) Get(name string) (string, bool) {
	def, ok := m.spec.fieldByName(name)
	if !ok {
		return "", false
	}
	return m.GetOn(def.Number)
}

// Set stores v under the named field.
func (m *Msg) Set(name, v string) error {
	def, ok := m.spec.fieldByName(name)
	if !ok {
		return newProtocolError("field %q is not defined in spec", name)
	}
	return m.SetOn(def.Number, v)
}

// EchoFrom copies the named fields from other into m, skipping any field
// that is absent on other. Used to build a response message that carries
// forward the fields the request populated.
func (m *Msg) EchoFrom(other *Msg, fieldNos ...int) {
	for _, n := range fieldNos {
		if v, ok := other.GetOn(n); ok {
			m.fields[n] = v
		}
	}
}

// PresentFields returns the populated field numbers in ascending order.
func (m *Msg) PresentFields() []int {
	nums := make([]int, 0, len(m.fields))
	for n := range m.fields {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}
