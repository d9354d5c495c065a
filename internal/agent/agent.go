// Package agent содержит однопоточный цикл агента диагностики: приём
// кадров с шины, учёт живости устройств и периодические отчёты.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/serebryakov7/can-diag/common"
	"github.com/serebryakov7/can-diag/internal/canbus"
	"github.com/serebryakov7/can-diag/internal/canid"
	"github.com/serebryakov7/can-diag/internal/tracker"
	"github.com/serebryakov7/can-diag/pkg/storage"
)

// Ограниченное ожидание кадра на одном тике цикла.
const receiveTimeout = 50 * time.Millisecond

// Agent владеет всем состоянием одного запуска: трекером, агрегатором и
// репортёром. Цикл кооперативный и однопоточный, поэтому блокировок
// вокруг состояния нет — читатели видят согласованный снимок между
// тиками.
type Agent struct {
	cfg      *common.Config
	bus      canbus.Bus
	trk      *tracker.Tracker
	agg      *tracker.Aggregator
	rep      *Reporter
	registry *bolt.DB // реестр обнаруженных устройств, может быть nil
	out      io.Writer
	clock    func() time.Time

	specByKey map[canid.DeviceKey]common.DeviceSpec
}

// New собирает агента из разрешённой конфигурации и внешних ресурсов.
// Владение bus и registry остаётся у вызывающей стороны; агент их не
// закрывает.
func New(cfg *common.Config, bus canbus.Bus, sink Sink, registry *bolt.DB, out io.Writer) *Agent {
	summaryWin := &tracker.Window{}
	logWin := &tracker.Window{}
	trk := tracker.New(cfg.Timeout, summaryWin, logWin)
	agg := tracker.NewAggregator(cfg.Devices, cfg.Groups, cfg.DeviceIDs, cfg.Timeout)

	specByKey := make(map[canid.DeviceKey]common.DeviceSpec, len(cfg.Devices))
	for _, spec := range cfg.Devices {
		specByKey[spec.Key] = spec
	}

	return &Agent{
		cfg:       cfg,
		bus:       bus,
		trk:       trk,
		agg:       agg,
		rep:       NewReporter(cfg, trk, agg, sink, out, summaryWin, logWin),
		registry:  registry,
		out:       out,
		clock:     time.Now,
		specByKey: specByKey,
	}
}

// Run крутит цикл до отмены контекста, фатального сбоя транспорта или
// завершения быстрой проверки. На любом пути выхода печатается одна
// финальная сводка; ресурсы освобождает вызывающая сторона через Close.
func (a *Agent) Run(ctx context.Context) error {
	start := a.clock()
	quickDone := false

	for {
		select {
		case <-ctx.Done():
			a.flushFinal(start)
			return nil
		default:
		}

		now := a.clock()
		frame, err := a.bus.Receive(receiveTimeout)
		if err != nil {
			if errors.Is(err, canbus.ErrClosed) || ctx.Err() != nil {
				a.flushFinal(start)
				return nil
			}
			// Фатальный сбой транспорта: финальная сводка и наверх,
			// решение о завершении принимает вызывающая сторона.
			a.flushFinal(start)
			return fmt.Errorf("сбой транспорта шины: %w", err)
		}
		if frame != nil {
			a.handleFrame(frame, now)
		}

		a.rep.Tick(a.clock())

		if a.cfg.QuickCheck && !quickDone && a.clock().Sub(start) >= a.cfg.QuickWait {
			a.rep.FlushSummary(a.clock(), a.cfg.QuickWait, "Quick check")
			quickDone = true
			return nil
		}
	}
}

// flushFinal печатает финальную сводку при завершении. Если
// периодических сводок не было, прошедшее время оценивается от старта
// цикла, но не меньше полусекунды, чтобы мгновенный запуск не давал
// завышенных скоростей.
func (a *Agent) flushFinal(start time.Time) {
	now := a.clock()
	fallback := now.Sub(start)
	if fallback < 500*time.Millisecond {
		fallback = 500 * time.Millisecond
	}
	a.rep.FlushSummary(now, fallback, "Final Summary")
}

// handleFrame учитывает один кадр. Ошибочный кадр наращивает только
// счётчики ошибок и не несёт идентичности устройства.
func (a *Agent) handleFrame(frame *canbus.Frame, now time.Time) {
	if frame.IsError {
		a.trk.RecordError(now)
		return
	}

	var key canid.DeviceKey
	if a.cfg.LegacyMode {
		key = canid.LegacyKey(canid.LegacyDeviceID(frame.ID))
	} else {
		key = canid.Decode(frame.ID).Key()
	}

	recovered := a.trk.RecordFrame(key, now)

	if a.cfg.PrintPublish && recovered {
		count := a.trk.Get(key).Count
		if a.cfg.LegacyMode {
			fmt.Fprintf(a.out, "Device seen: id=%d count=%d\n", key.DeviceID, count)
		} else {
			fmt.Fprintf(a.out, "Device seen: mfg=%d type=%d id=%d count=%d\n",
				key.Manufacturer, key.DeviceType, key.DeviceID, count)
		}
	}
	if a.cfg.Verbose {
		if a.cfg.LegacyMode {
			fmt.Fprintf(a.out, "RX id=%d arb=0x%X\n", key.DeviceID, frame.ID)
		} else {
			fmt.Fprintf(a.out, "RX mfg=%d type=%d id=%d arb=0x%X\n",
				key.Manufacturer, key.DeviceType, key.DeviceID, frame.ID)
		}
	}

	// Кадр от устройства без описания отслеживается как любой другой,
	// но о первом появлении такого ключа (с учётом прошлых запусков)
	// сообщается в журнал.
	if a.registry != nil {
		if _, described := a.specByKey[key]; !described {
			isNew, err := storage.IsNew(a.registry, key)
			if err != nil {
				log.Printf("Ошибка проверки реестра устройств для %s: %v", key, err)
			} else if isNew {
				log.Printf("Обнаружено неописанное устройство %s", key)
			}
		}
	}
}

// Close освобождает ресурсы, принадлежащие агенту (файл CSV-журнала).
// Повторный вызов безопасен.
func (a *Agent) Close() error {
	return a.rep.Close()
}

// Tracker открывает состояние живости для стартового отчёта и тестов.
func (a *Agent) Tracker() *tracker.Tracker { return a.trk }

// Aggregator открывает разрешённые группы для стартового отчёта.
func (a *Agent) Aggregator() *tracker.Aggregator { return a.agg }
