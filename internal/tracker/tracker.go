package tracker

import (
	"time"

	"github.com/serebryakov7/can-diag/internal/canid"
)

// Record — состояние живости одного устройства: последняя отметка
// времени и счётчик кадров. Создаётся лениво при первом кадре и не
// удаляется до конца работы: именно по сохранившейся старой отметке
// обнаруживается замолчавшее устройство.
type Record struct {
	LastSeen time.Time
	Count    uint64
}

// Snapshot — неизменяемый срез состояния всех устройств. Записи
// копируются по значению, так что читатели не могут повлиять на трекер.
type Snapshot map[canid.DeviceKey]Record

// Get возвращает запись устройства; нулевая запись означает, что
// устройство не видели.
func (s Snapshot) Get(key canid.DeviceKey) Record {
	return s[key]
}

// Tracker владеет состоянием живости всех устройств и счётчиком ошибок
// шины. Снаружи записи не изменяются — только через RecordFrame и
// RecordError. Блокировок нет: цикл агента однопоточный.
type Tracker struct {
	timeout     time.Duration
	records     map[canid.DeviceKey]Record
	busErrors   uint64
	totalFrames uint64
	windows     []*Window
}

// New создаёт трекер. Окна скоростей регистрируются здесь и пополняются
// на каждом кадре и каждой ошибке.
func New(timeout time.Duration, windows ...*Window) *Tracker {
	return &Tracker{
		timeout: timeout,
		records: make(map[canid.DeviceKey]Record),
		windows: windows,
	}
}

// RecordFrame фиксирует кадр устройства: обновляет отметку времени и
// наращивает счётчик. Возвращает признак "устройство вернулось": до
// этого кадра его либо не видели вовсе, либо возраст уже превышал
// таймаут. Признак вычисляется по состоянию ДО записи.
func (t *Tracker) RecordFrame(key canid.DeviceKey, now time.Time) (recovered bool) {
	prev := t.records[key]
	status, _ := Classify(prev.LastSeen, now, t.timeout)
	recovered = status != StatusOK

	rec := prev
	// Отметка времени монотонна: запоздавший кадр не двигает её назад.
	if now.After(rec.LastSeen) {
		rec.LastSeen = now
	}
	rec.Count++
	t.records[key] = rec

	t.totalFrames++
	for _, w := range t.windows {
		w.addFrame()
	}
	return recovered
}

// RecordError фиксирует ошибочный кадр шины. Записи устройств не
// затрагиваются: ошибка не несёт идентичности.
func (t *Tracker) RecordError(now time.Time) {
	_ = now
	t.busErrors++
	for _, w := range t.windows {
		w.addError()
	}
}

// Get возвращает копию записи одного устройства; нулевая запись
// означает, что устройство не видели.
func (t *Tracker) Get(key canid.DeviceKey) Record {
	return t.records[key]
}

// Snapshot возвращает копию всех записей для читателей.
func (t *Tracker) Snapshot() Snapshot {
	snap := make(Snapshot, len(t.records))
	for key, rec := range t.records {
		snap[key] = rec
	}
	return snap
}

// BusErrors — суммарный счётчик ошибочных кадров за всю работу.
func (t *Tracker) BusErrors() uint64 { return t.busErrors }

// TotalFrames — суммарное число принятых кадров за всю работу.
// Нужен сторожевому таймеру "нет трафика".
func (t *Tracker) TotalFrames() uint64 { return t.totalFrames }
