package canbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSLCANExtendedFrame(t *testing.T) {
	frame, ok := parseSLCANLine([]byte("T0502000A21122"))
	require.True(t, ok)
	assert.Equal(t, uint32(0x0502000A), frame.ID)
	assert.True(t, frame.Extended)
	assert.False(t, frame.IsError)
	assert.Equal(t, []byte{0x11, 0x22}, frame.Data)
}

func TestParseSLCANStandardFrame(t *testing.T) {
	frame, ok := parseSLCANLine([]byte("t1230"))
	require.True(t, ok)
	assert.Equal(t, uint32(0x123), frame.ID)
	assert.False(t, frame.Extended)
	assert.Empty(t, frame.Data)
}

func TestParseSLCANMalformed(t *testing.T) {
	cases := []string{
		"",               // пустая строка
		"T0502000A",      // нет длины
		"T0502000AZ",     // длина не hex
		"T0502000A9",     // длина больше 8
		"T0502000A211",   // данных меньше, чем заявлено
		"TZZZZZZZZ0",     // идентификатор не hex
		"r1230",          // remote-кадры не разбираются
		"z",              // ответ адаптера на команду
		"V1013",          // версия адаптера
	}
	for _, line := range cases {
		_, ok := parseSLCANLine([]byte(line))
		assert.False(t, ok, "строка %q не должна разбираться", line)
	}
}

func TestTakeFrameSplitsStream(t *testing.T) {
	b := &slcanBus{}
	// Два кадра, BEL между ними и мусорная строка в конце.
	b.acc = []byte("T0502000A0\r\x07t1230\rGARBAGE\rT05020016")

	frame, ok := b.takeFrame()
	require.True(t, ok)
	assert.Equal(t, uint32(0x0502000A), frame.ID)

	frame, ok = b.takeFrame()
	require.True(t, ok)
	assert.True(t, frame.IsError)

	frame, ok = b.takeFrame()
	require.True(t, ok)
	assert.Equal(t, uint32(0x123), frame.ID)

	// Мусор отброшен, незавершённый хвост ждёт продолжения.
	_, ok = b.takeFrame()
	assert.False(t, ok)
	assert.Equal(t, []byte("T05020016"), b.acc)
}

func TestSLCANBitrateCode(t *testing.T) {
	code, err := slcanBitrateCode(1_000_000)
	require.NoError(t, err)
	assert.Equal(t, byte('8'), code)

	code, err = slcanBitrateCode(500_000)
	require.NoError(t, err)
	assert.Equal(t, byte('6'), code)

	_, err = slcanBitrateCode(333_333)
	assert.Error(t, err)
}

func TestOpenUnknownInterface(t *testing.T) {
	_, err := Open("модем", "/dev/null", 1_000_000)
	assert.Error(t, err)
}
