package tracker

import "time"

// Status — классификация свежести устройства. Никогда не хранится как
// состояние: всегда пересчитывается из последней отметки времени,
// текущего момента и таймаута.
type Status uint8

const (
	// StatusOK — кадр был не позже таймаута назад.
	StatusOK Status = iota
	// StatusStale — устройство видели, но возраст превысил таймаут.
	StatusStale
	// StatusMissing — устройство не видели ни разу.
	StatusMissing
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusStale:
		return "STALE"
	default:
		return "MISSING"
	}
}

// Classify вычисляет свежесть по последней отметке времени. Нулевая
// отметка означает "ни разу не видели" — возвращается StatusMissing и
// нулевой возраст. Граничное правило: возраст, в точности равный
// таймауту, — это ещё OK; STALE начинается со строгого превышения.
func Classify(lastSeen time.Time, now time.Time, timeout time.Duration) (Status, time.Duration) {
	if lastSeen.IsZero() {
		return StatusMissing, 0
	}
	age := now.Sub(lastSeen)
	if age > timeout {
		return StatusStale, age
	}
	return StatusOK, age
}
