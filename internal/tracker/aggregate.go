package tracker

import (
	"sort"
	"time"

	"github.com/serebryakov7/can-diag/common"
	"github.com/serebryakov7/can-diag/internal/canid"
)

// Group — именованный набор ключей устройств, неизменный на всё время
// работы. Порядок групп фиксируется при разрешении: от него зависит
// порядок колонок CSV-журнала.
type Group struct {
	Name string
	Keys []canid.DeviceKey
}

// LegacyAggregate — свёртка по голому номеру устройства через все ключи,
// разделяющие этот номер. Нужна для обратной совместимости публикации.
type LegacyAggregate struct {
	TotalCount   uint64
	BestLastSeen time.Time // нулевое — ни один из ключей не видели
	BestAge      time.Duration
	Status       Status
}

// Aggregator строит групповые и устаревшие свёртки поверх снимка
// трекера. Сам состояния не держит, кроме неизменной конфигурации.
type Aggregator struct {
	timeout   time.Duration
	specs     []common.DeviceSpec
	groups    []Group
	legacyIDs []uint8
	keysByID  map[uint8][]canid.DeviceKey
}

// NewAggregator разрешает группы и устаревшие номера один раз при
// старте. Явные группы из конфигурации имеют приоритет: их элементы —
// подписи устройств или голые номера. Без явных групп группы собираются
// по полю Group у описаний устройств. Пустой legacyIDs заменяется
// отсортированным множеством номеров из описаний.
func NewAggregator(specs []common.DeviceSpec, groupRefs map[string][]common.GroupRef, legacyIDs []uint8, timeout time.Duration) *Aggregator {
	a := &Aggregator{
		timeout:  timeout,
		specs:    specs,
		keysByID: make(map[uint8][]canid.DeviceKey),
	}

	labelToKey := make(map[string]canid.DeviceKey, len(specs))
	for _, spec := range specs {
		labelToKey[spec.Label] = spec.Key
		a.keysByID[spec.Key.DeviceID] = append(a.keysByID[spec.Key.DeviceID], spec.Key)
	}

	if len(groupRefs) > 0 {
		// Явные группы сортируются по имени: порядок из map в Go
		// недетерминирован, а колонки CSV должны быть стабильны.
		names := make([]string, 0, len(groupRefs))
		for name := range groupRefs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			var keys []canid.DeviceKey
			for _, ref := range groupRefs[name] {
				if ref.ByID {
					keys = append(keys, a.keysByID[ref.ID]...)
					continue
				}
				if key, ok := labelToKey[ref.Label]; ok {
					keys = append(keys, key)
				}
			}
			if len(keys) > 0 {
				a.groups = append(a.groups, Group{Name: name, Keys: keys})
			}
		}
	} else {
		// Группы по членству: порядок первого появления в описаниях.
		index := make(map[string]int)
		for _, spec := range specs {
			if spec.Group == "" {
				continue
			}
			i, ok := index[spec.Group]
			if !ok {
				i = len(a.groups)
				index[spec.Group] = i
				a.groups = append(a.groups, Group{Name: spec.Group})
			}
			a.groups[i].Keys = append(a.groups[i].Keys, spec.Key)
		}
	}

	if len(legacyIDs) > 0 {
		a.legacyIDs = legacyIDs
	} else {
		seen := make(map[uint8]bool)
		for _, spec := range specs {
			if !seen[spec.Key.DeviceID] {
				seen[spec.Key.DeviceID] = true
				a.legacyIDs = append(a.legacyIDs, spec.Key.DeviceID)
			}
		}
		sort.Slice(a.legacyIDs, func(i, j int) bool { return a.legacyIDs[i] < a.legacyIDs[j] })
	}

	return a
}

// Specs возвращает описания устройств в конфигурационном порядке.
func (a *Aggregator) Specs() []common.DeviceSpec { return a.specs }

// Groups возвращает разрешённые группы в стабильном порядке.
func (a *Aggregator) Groups() []Group { return a.groups }

// LegacyIDs возвращает номера устройств для устаревшей свёртки.
func (a *Aggregator) LegacyIDs() []uint8 { return a.legacyIDs }

// KeysByID возвращает ключи, разделяющие данный номер устройства.
func (a *Aggregator) KeysByID(id uint8) []canid.DeviceKey { return a.keysByID[id] }

// Timeout — настроенный таймаут свежести.
func (a *Aggregator) Timeout() time.Duration { return a.timeout }

// GroupRollup считает по группе "видим"/"пропал". Для групповой свёртки
// STALE приравнивается к MISSING: на устройство с устаревшими данными
// полагаться нельзя. Инвариант seen+missing == len(g.Keys) держится
// по построению.
func (a *Aggregator) GroupRollup(g Group, snap Snapshot, now time.Time) (seen, missing int) {
	for _, key := range g.Keys {
		status, _ := Classify(snap.Get(key).LastSeen, now, a.timeout)
		if status == StatusOK {
			seen++
		} else {
			missing++
		}
	}
	return seen, missing
}

// LegacyRollup сворачивает все ключи с данным номером устройства:
// суммарный счётчик, самая свежая отметка и объединённый статус с
// приоритетом OK > STALE > MISSING — устройство, достижимое хотя бы
// через один вариант производитель/тип, считается достижимым.
func (a *Aggregator) LegacyRollup(id uint8, snap Snapshot, now time.Time) LegacyAggregate {
	agg := LegacyAggregate{Status: StatusMissing}
	for _, key := range a.keysByID[id] {
		rec := snap.Get(key)
		status, age := Classify(rec.LastSeen, now, a.timeout)
		agg.TotalCount += rec.Count
		if !rec.LastSeen.IsZero() && rec.LastSeen.After(agg.BestLastSeen) {
			agg.BestLastSeen = rec.LastSeen
			agg.BestAge = age
		}
		if status == StatusOK {
			agg.Status = StatusOK
		} else if status == StatusStale && agg.Status != StatusOK {
			agg.Status = StatusStale
		}
	}
	return agg
}
