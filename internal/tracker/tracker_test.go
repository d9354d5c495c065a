package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serebryakov7/can-diag/internal/canid"
)

var testKey = canid.DeviceKey{Manufacturer: 5, DeviceType: 2, DeviceID: 10}

func TestRecordFrame(t *testing.T) {
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	trk := New(time.Second)

	// Первый кадр: устройства до этого не видели, признак возврата есть.
	recovered := trk.RecordFrame(testKey, base)
	assert.True(t, recovered)

	rec := trk.Get(testKey)
	assert.Equal(t, base, rec.LastSeen)
	assert.Equal(t, uint64(1), rec.Count)

	// Кадр в пределах таймаута: возврата нет, счётчик растёт.
	recovered = trk.RecordFrame(testKey, base.Add(200*time.Millisecond))
	assert.False(t, recovered)
	assert.Equal(t, uint64(2), trk.Get(testKey).Count)
	assert.Equal(t, uint64(2), trk.TotalFrames())
}

func TestRecordFrameRecoveredAfterStale(t *testing.T) {
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	trk := New(time.Second)

	trk.RecordFrame(testKey, base)

	// Пауза дольше таймаута: следующий кадр — возврат устройства.
	recovered := trk.RecordFrame(testKey, base.Add(3*time.Second))
	assert.True(t, recovered)

	// Сразу за ним — уже нет.
	recovered = trk.RecordFrame(testKey, base.Add(3*time.Second+50*time.Millisecond))
	assert.False(t, recovered)
}

func TestRecordFrameMonotonicLastSeen(t *testing.T) {
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	trk := New(time.Second)

	trk.RecordFrame(testKey, base)
	// Запоздавший кадр не двигает отметку назад, но считается.
	trk.RecordFrame(testKey, base.Add(-100*time.Millisecond))

	rec := trk.Get(testKey)
	assert.Equal(t, base, rec.LastSeen)
	assert.Equal(t, uint64(2), rec.Count)
}

func TestRecordErrorTouchesNoDevice(t *testing.T) {
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	trk := New(time.Second)

	trk.RecordFrame(testKey, base)
	trk.RecordError(base.Add(100 * time.Millisecond))
	trk.RecordError(base.Add(200 * time.Millisecond))

	assert.Equal(t, uint64(2), trk.BusErrors())
	assert.Equal(t, uint64(1), trk.TotalFrames())
	// Ошибки не трогают записи устройств.
	assert.Equal(t, uint64(1), trk.Get(testKey).Count)
	assert.Len(t, trk.Snapshot(), 1)
}

func TestSnapshotIsCopy(t *testing.T) {
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	trk := New(time.Second)
	trk.RecordFrame(testKey, base)

	snap := trk.Snapshot()
	trk.RecordFrame(testKey, base.Add(time.Millisecond))

	// Снимок сделан до второго кадра и его не видит.
	require.Equal(t, uint64(1), snap.Get(testKey).Count)
	assert.Equal(t, uint64(2), trk.Get(testKey).Count)

	// Неизвестный ключ даёт нулевую запись.
	assert.Equal(t, Record{}, snap.Get(canid.DeviceKey{DeviceID: 63}))
}

func TestWindowsFedByTracker(t *testing.T) {
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	winA := &Window{}
	winB := &Window{}
	trk := New(time.Second, winA, winB)

	trk.RecordFrame(testKey, base)
	trk.RecordFrame(testKey, base.Add(time.Millisecond))
	trk.RecordError(base.Add(2 * time.Millisecond))

	// Потребитель A снимает своё окно; окно B не затрагивается.
	frames, errs := winA.Take()
	assert.Equal(t, uint64(2), frames)
	assert.Equal(t, uint64(1), errs)

	frames, errs = winA.Take()
	assert.Equal(t, uint64(0), frames)
	assert.Equal(t, uint64(0), errs)

	frames, errs = winB.Take()
	assert.Equal(t, uint64(2), frames)
	assert.Equal(t, uint64(1), errs)
}

func TestRates(t *testing.T) {
	fps, eps := Rates(10, 1, 2*time.Second)
	assert.InDelta(t, 5.0, fps, 1e-9)
	assert.InDelta(t, 0.5, eps, 1e-9)

	// Нулевой или отрицательный интервал не делит на ноль.
	fps, eps = Rates(10, 1, 0)
	assert.Zero(t, fps)
	assert.Zero(t, eps)
}
