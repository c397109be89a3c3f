package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo-scada/bacstack/bacnet"
)

func TestParseTypedValue(t *testing.T) {
	tests := []struct {
		kind  string
		input string
		want  bacnet.Value
	}{
		{"real", "21.5", bacnet.Real(21.5)},
		{"double", "0.25", bacnet.Double(0.25)},
		{"unsigned", "0x10", bacnet.Unsigned(16)},
		{"int", "-3", bacnet.Signed(-3)},
		{"bool", "active", bacnet.Boolean(true)},
		{"enum", "62", bacnet.Enumerated(62)},
		{"string", `"Zone 1"`, bacnet.NewCharacterString("Zone 1")},
		{"octets", "0a0b", bacnet.OctetString{0x0a, 0x0b}},
		{"object", "av:3", bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogValue, 3)},
		{"null", "", bacnet.Null{}},
		{"", "72.5", bacnet.Real(72.5)},
		{"", "42", bacnet.Unsigned(42)},
		{"", "-42", bacnet.Signed(-42)},
		{"", "off", bacnet.Boolean(false)},
		{"", "'7'", bacnet.NewCharacterString("7")},
		{"", "lobby", bacnet.NewCharacterString("lobby")},
	}

	for _, tt := range tests {
		t.Run(tt.kind+" "+tt.input, func(t *testing.T) {
			got, err := parseTypedValue(tt.kind, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTypedValueErrors(t *testing.T) {
	tests := []struct {
		kind  string
		input string
	}{
		{"unsigned", "-1"},
		{"bool", "maybe"},
		{"enum", "4294967296"},
		{"octets", "xyz"},
		{"object", "nope"},
		{"date", "2024-01-01"},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			_, err := parseTypedValue(tt.kind, tt.input)
			assert.Error(t, err)
		})
	}
}

func TestParseObjectIdentifier(t *testing.T) {
	tests := []struct {
		input   string
		want    bacnet.ObjectIdentifier
		wantErr bool
	}{
		{input: "analog-value:1", want: bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogValue, 1)},
		{input: "Device:4001", want: bacnet.NewObjectIdentifier(bacnet.ObjectTypeDevice, 4001)},
		{input: "ai:2", want: bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogInput, 2)},
		{input: "130:7", want: bacnet.NewObjectIdentifier(bacnet.ObjectType(130), 7)},
		{input: "analog-value", wantErr: true},
		{input: "analog-value:4194304", wantErr: true},
		{input: "1024:1", wantErr: true},
		{input: "widget:1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseObjectIdentifier(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePropertyIdentifier(t *testing.T) {
	p, err := parsePropertyIdentifier("present-value")
	require.NoError(t, err)
	assert.Equal(t, bacnet.PropertyPresentValue, p)

	p, err = parsePropertyIdentifier("PV")
	require.NoError(t, err)
	assert.Equal(t, bacnet.PropertyPresentValue, p)

	p, err = parsePropertyIdentifier("512")
	require.NoError(t, err)
	assert.Equal(t, bacnet.PropertyIdentifier(512), p)

	_, err = parsePropertyIdentifier("temperature")
	assert.Error(t, err)
}

func TestParseSegmentation(t *testing.T) {
	seg, err := parseSegmentation("both")
	require.NoError(t, err)
	assert.Equal(t, bacnet.SegmentationBoth, seg)

	_, err = parseSegmentation("sometimes")
	assert.Error(t, err)
}
