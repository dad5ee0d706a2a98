package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationArity(t *testing.T) {
	tests := []struct {
		op    OperationKind
		arity int
		read  bool
	}{
		{CreateManufacturer, 1, false},
		{DeleteManufacturerByID, 1, false},
		{AddModelByManufacturerID, 2, false},
		{ViewModelsByManufacturerID, 1, true},
		{ListManufacturers, 0, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			assert.True(t, tt.op.Valid())
			assert.Equal(t, tt.arity, tt.op.Arity())
			assert.Equal(t, tt.read, tt.op.IsRead())
			assert.Equal(t, string(tt.op), tt.op.Endpoint())
		})
	}
	assert.Len(t, Operations(), len(tests))
}

func TestValidateArgs(t *testing.T) {
	tests := []struct {
		name    string
		op      OperationKind
		args    []string
		wantErr bool
	}{
		{"create ok", CreateManufacturer, []string{"Acme"}, false},
		{"create missing name", CreateManufacturer, nil, true},
		{"create blank name", CreateManufacturer, []string{"  "}, true},
		{"add model ok", AddModelByManufacturerID, []string{"42", "Roadster"}, false},
		{"add model one arg", AddModelByManufacturerID, []string{"42"}, true},
		{"list with args", ListManufacturers, []string{"x"}, true},
		{"list ok", ListManufacturers, nil, false},
		{"unknown", OperationKind("explode"), nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op.ValidateArgs(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCommandJSONCarriesNoBehaviour(t *testing.T) {
	cmd := Command{
		ID:            "c1",
		Operation:     AddModelByManufacturerID,
		Arguments:     []string{"42", "Roadster"},
		PlaceholderID: "",
		EnqueuedAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	b, err := json.Marshal(cmd)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"c1","operation":"addModelByManufacturerId","arguments":["42","Roadster"],"enqueuedAt":"2026-01-02T03:04:05Z"}`, string(b))

	var back Command
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, cmd, back)
	assert.NoError(t, back.Validate())
}

func TestCommandClone(t *testing.T) {
	cmd := Command{Operation: CreateManufacturer, Arguments: []string{"Acme"}}
	cp := cmd.Clone()
	cp.Arguments[0] = "Other"
	assert.Equal(t, "Acme", cmd.Arguments[0])
	assert.Equal(t, "createManufacturer(Acme)", cmd.String())
}

func TestManufacturerDecodesDocumentShape(t *testing.T) {
	var m Manufacturer
	require.NoError(t, json.Unmarshal([]byte(`{"_id":"65f0","name":"Acme","__v":0,"modelCount":3}`), &m))
	assert.Equal(t, Manufacturer{ID: "65f0", Name: "Acme", ModelCount: 3}, m)

	require.NoError(t, json.Unmarshal([]byte(`{"id":"7","name":"Zed"}`), &m))
	assert.Equal(t, Manufacturer{ID: "7", Name: "Zed"}, m)
}

func TestCarModelDecodesDocumentShape(t *testing.T) {
	var c CarModel
	require.NoError(t, json.Unmarshal([]byte(`{"_id":"m1","name":"Roadster","manufacturer":"65f0"}`), &c))
	assert.Equal(t, CarModel{ID: "m1", Name: "Roadster", ManufacturerID: "65f0"}, c)

	b, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"m1","name":"Roadster","manufacturerId":"65f0"}`, string(b))
}
