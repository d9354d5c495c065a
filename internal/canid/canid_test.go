package canid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeKnownFrame(t *testing.T) {
	// 0x0205000A: производитель 5, тип 2, номер 10.
	f := Decode(0x0205000A)
	require.Equal(t, uint8(5), f.Manufacturer)
	require.Equal(t, uint8(2), f.DeviceType)
	require.Equal(t, uint8(10), f.DeviceID)
	require.Equal(t, uint8(0), f.ApiClass)
	require.Equal(t, uint8(0), f.ApiIndex)

	key := f.Key()
	assert.Equal(t, DeviceKey{Manufacturer: 5, DeviceType: 2, DeviceID: 10}, key)
	assert.Equal(t, "5:2:10", key.String())
}

func TestDecodeFieldBoundaries(t *testing.T) {
	// Все поля на максимуме в пределах 29 бит.
	f := Decode(0x1FFFFFFF)
	assert.Equal(t, uint8(0x1F), f.DeviceType)
	assert.Equal(t, uint8(0xFF), f.Manufacturer)
	assert.Equal(t, uint8(0x3F), f.ApiClass)
	assert.Equal(t, uint8(0x0F), f.ApiIndex)
	assert.Equal(t, uint8(0x3F), f.DeviceID)

	f = Decode(0)
	assert.Equal(t, Fields{}, f)
}

func TestDecodeIsTotal(t *testing.T) {
	// Биты выше 29-го на разбор полей не влияют.
	assert.Equal(t, Decode(0x0205000A), Decode(0xE0000000|0x0205000A))
}

func TestLegacyDeviceID(t *testing.T) {
	assert.Equal(t, uint8(10), LegacyDeviceID(0x0502000A))
	assert.Equal(t, uint8(0x3F), LegacyDeviceID(0xFFFFFFFF))
	// Одинаковые младшие 6 бит дают один номер независимо от остального.
	assert.Equal(t, LegacyDeviceID(0x0502000A), LegacyDeviceID(0x0903000A))
}

func TestLegacyKey(t *testing.T) {
	key := LegacyKey(22)
	assert.Equal(t, DeviceKey{DeviceID: 22}, key)
	assert.Equal(t, "0:0:22", key.String())
}
