package main

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo-scada/bacstack/bacnet"
)

func TestConfigValue(t *testing.T) {
	tests := []struct {
		name string
		raw  interface{}
		want bacnet.Value
	}{
		{"nil", nil, bacnet.Null{}},
		{"bool", true, bacnet.Boolean(true)},
		{"int", 5, bacnet.Unsigned(5)},
		{"negative int", -5, bacnet.Signed(-5)},
		{"float", 21.5, bacnet.Real(21.5)},
		{"string", "Lobby", bacnet.NewCharacterString("Lobby")},
		{"typed", map[string]interface{}{"type": "enum", "value": 62}, bacnet.Enumerated(62)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := configValue(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := configValue(map[string]interface{}{"value": 1})
	assert.Error(t, err)
	_, err = configValue(struct{}{})
	assert.Error(t, err)

	values, err := configValues([]interface{}{1, "two"})
	require.NoError(t, err)
	assert.Equal(t, []bacnet.Value{bacnet.Unsigned(1), bacnet.NewCharacterString("two")}, values)
}

func TestBuildStore(t *testing.T) {
	viper.Set("segmentation", "none")
	viper.Set("timeout", 3*time.Second)
	viper.Set("retries", 3)
	t.Cleanup(viper.Reset)

	objects := []objectConfig{
		{
			Object: "analog-value:1",
			Name:   "Setpoint",
			Properties: map[string]interface{}{
				"present-value": 21.5,
				"units":         map[string]interface{}{"type": "enum", "value": 62},
			},
		},
		{Object: "bv:2"},
	}

	store, err := buildStore(4001, 7, "test-device", objects)
	require.NoError(t, err)

	device := bacnet.NewObjectIdentifier(bacnet.ObjectTypeDevice, 4001)
	av := bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogValue, 1)
	bv := bacnet.NewObjectIdentifier(bacnet.ObjectTypeBinaryValue, 2)

	vendor, err := store.Resolve(device, bacnet.PropertyVendorIdentifier)
	require.NoError(t, err)
	assert.Equal(t, []bacnet.Value{bacnet.Unsigned(7)}, vendor)

	timeout, err := store.Resolve(device, bacnet.PropertyApduTimeout)
	require.NoError(t, err)
	assert.Equal(t, []bacnet.Value{bacnet.Unsigned(3000)}, timeout)

	pv, err := store.Resolve(av, bacnet.PropertyPresentValue)
	require.NoError(t, err)
	assert.Equal(t, []bacnet.Value{bacnet.Real(21.5)}, pv)

	units, err := store.Resolve(av, bacnet.PropertyUnits)
	require.NoError(t, err)
	assert.Equal(t, []bacnet.Value{bacnet.Enumerated(62)}, units)

	name, err := store.Resolve(bv, bacnet.PropertyObjectName)
	require.NoError(t, err)
	assert.Equal(t, []bacnet.Value{bacnet.NewCharacterString("binary-value:2")}, name)

	list, err := store.Resolve(device, bacnet.PropertyObjectList)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestBuildStoreErrors(t *testing.T) {
	viper.Set("segmentation", "none")
	t.Cleanup(viper.Reset)

	tests := []struct {
		name    string
		objects []objectConfig
	}{
		{"bad object", []objectConfig{{Object: "widget:1"}}},
		{"second device", []objectConfig{{Object: "device:9"}}},
		{"bad property", []objectConfig{{Object: "av:1", Properties: map[string]interface{}{"temperature": 1}}}},
		{"bad value", []objectConfig{{Object: "av:1", Properties: map[string]interface{}{"units": map[string]interface{}{"type": "date", "value": "x"}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildStore(4001, 0, "test-device", tt.objects)
			assert.Error(t, err)
		})
	}
}
