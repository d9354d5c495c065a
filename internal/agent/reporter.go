package agent

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/serebryakov7/can-diag/common"
	"github.com/serebryakov7/can-diag/internal/tracker"
)

// Sink — внешнее хранилище телеметрии: иерархическая таблица строковых
// путей. Connected может вернуть known=false, если состояние связи
// неопределимо; сторожевой таймер в этом случае молчит.
type Sink interface {
	SetString(path, value string) error
	SetDouble(path string, value float64) error
	SetBoolean(path string, value bool) error
	Connected() (connected, known bool)
}

// Reporter выполняет четыре независимых периодических действия:
// публикацию в телеметрию, сводку в консоль, строку CSV-журнала и
// сторожевые предупреждения. Каждое действие срабатывает, когда с его
// прошлого срабатывания прошло не меньше настроенного периода; нулевой
// период выключает действие. Никакой блокировки: все действия
// синхронные и выполняются между тиками цикла.
type Reporter struct {
	cfg  *common.Config
	trk  *tracker.Tracker
	agg  *tracker.Aggregator
	sink Sink
	out  io.Writer

	summaryWin *tracker.Window
	logWin     *tracker.Window
	csv        *csvLog

	lastPublish       time.Time
	lastSummary       time.Time
	lastLog           time.Time
	lastTrafficWarn   time.Time
	lastTelemetryWarn time.Time
}

// NewReporter собирает репортёр. Окна скоростей принадлежат ему же и
// должны быть зарегистрированы в трекере вызывающей стороной.
func NewReporter(cfg *common.Config, trk *tracker.Tracker, agg *tracker.Aggregator, sink Sink, out io.Writer, summaryWin, logWin *tracker.Window) *Reporter {
	r := &Reporter{
		cfg:        cfg,
		trk:        trk,
		agg:        agg,
		sink:       sink,
		out:        out,
		summaryWin: summaryWin,
		logWin:     logWin,
	}
	if cfg.LogCSV != "" {
		r.csv = newCSVLog(cfg.LogCSV, cfg.LegacyMode)
	}
	return r
}

// Tick оценивает все четыре таймера относительно переданного момента.
func (r *Reporter) Tick(now time.Time) {
	if r.cfg.PublishPeriod > 0 && now.Sub(r.lastPublish) >= r.cfg.PublishPeriod {
		if err := r.publish(now); err != nil {
			// Сбой записи не повторяется: телеметрия догонит
			// состояние на следующем периоде.
			log.Printf("Ошибка публикации телеметрии: %v", err)
		}
		r.lastPublish = now
	}

	if r.cfg.SummaryPeriod > 0 && now.Sub(r.lastSummary) >= r.cfg.SummaryPeriod {
		elapsed := r.cfg.SummaryPeriod
		if !r.lastSummary.IsZero() {
			elapsed = now.Sub(r.lastSummary)
		}
		frames, errs := r.summaryWin.Take()
		fps, eps := tracker.Rates(frames, errs, elapsed)
		r.PrintSummary(now, fps, eps, "Summary")
		r.lastSummary = now
	}

	if r.csv != nil && r.cfg.LogPeriod > 0 && now.Sub(r.lastLog) >= r.cfg.LogPeriod {
		elapsed := r.cfg.LogPeriod
		if !r.lastLog.IsZero() {
			elapsed = now.Sub(r.lastLog)
		}
		frames, errs := r.logWin.Take()
		fps, eps := tracker.Rates(frames, errs, elapsed)
		if err := r.csv.WriteRow(now, r.trk.BusErrors(), fps, eps, r.agg, r.trk.Snapshot()); err != nil {
			log.Printf("Ошибка записи CSV-журнала: %v", err)
		}
		r.lastLog = now
	}

	r.watchdogs(now)
}

// watchdogs печатает повторяющиеся предупреждения: полное отсутствие
// трафика с момента запуска и отсутствие связи с телеметрией. Таймеры
// независимы и перезаряжаются при каждой проверке, предупреждение
// повторяется, пока условие сохраняется.
func (r *Reporter) watchdogs(now time.Time) {
	if r.cfg.NoTraffic > 0 && now.Sub(r.lastTrafficWarn) >= r.cfg.NoTraffic {
		if r.trk.TotalFrames() == 0 {
			fmt.Fprintf(r.out, "No CAN traffic detected as of %s.\n", now.Format("15:04:05"))
		}
		r.lastTrafficWarn = now
	}

	if r.cfg.NoTelemetry > 0 && now.Sub(r.lastTelemetryWarn) >= r.cfg.NoTelemetry {
		if r.sink != nil {
			if connected, known := r.sink.Connected(); known && !connected {
				fmt.Fprintf(r.out, "Not connected to telemetry as of %s.\n", now.Format("15:04:05"))
			}
		}
		r.lastTelemetryWarn = now
	}
}

// publish выталкивает текущее состояние в телеметрию: счётчик ошибок
// шины, составные ключи по каждому описанному устройству и устаревшие
// свёртки по голым номерам. Отсутствующие значения кодируются как -1.
func (r *Reporter) publish(now time.Time) error {
	if r.sink == nil {
		return nil
	}
	snap := r.trk.Snapshot()

	if err := r.sink.SetDouble("busErrorCount", float64(r.trk.BusErrors())); err != nil {
		return err
	}

	for _, spec := range r.agg.Specs() {
		rec := snap.Get(spec.Key)
		status, age := tracker.Classify(rec.LastSeen, now, r.agg.Timeout())
		base := fmt.Sprintf("dev/%d/%d/%d", spec.Key.Manufacturer, spec.Key.DeviceType, spec.Key.DeviceID)

		ageSec := -1.0
		if status != tracker.StatusMissing {
			ageSec = age.Seconds()
		}
		lastSeen := -1.0
		if !rec.LastSeen.IsZero() {
			lastSeen = float64(rec.LastSeen.UnixNano()) / 1e9
		}

		if err := r.sink.SetString(base+"/label", spec.Label); err != nil {
			return err
		}
		if err := r.sink.SetString(base+"/status", status.String()); err != nil {
			return err
		}
		if err := r.sink.SetDouble(base+"/ageSec", ageSec); err != nil {
			return err
		}
		if err := r.sink.SetDouble(base+"/msgCount", float64(rec.Count)); err != nil {
			return err
		}
		if err := r.sink.SetDouble(base+"/lastSeen", lastSeen); err != nil {
			return err
		}
		if err := r.sink.SetDouble(base+"/manufacturer", float64(spec.Key.Manufacturer)); err != nil {
			return err
		}
		if err := r.sink.SetDouble(base+"/deviceType", float64(spec.Key.DeviceType)); err != nil {
			return err
		}
		if err := r.sink.SetDouble(base+"/deviceId", float64(spec.Key.DeviceID)); err != nil {
			return err
		}
	}

	// Свёртка по голым номерам для обратной совместимости.
	for _, id := range r.agg.LegacyIDs() {
		if len(r.agg.KeysByID(id)) == 0 {
			continue
		}
		legacy := r.agg.LegacyRollup(id, snap, now)

		lastSeen := -1.0
		ageSec := -1.0
		if !legacy.BestLastSeen.IsZero() {
			lastSeen = float64(legacy.BestLastSeen.UnixNano()) / 1e9
			ageSec = legacy.BestAge.Seconds()
		}

		if err := r.sink.SetDouble(fmt.Sprintf("lastSeen/%d", id), lastSeen); err != nil {
			return err
		}
		if err := r.sink.SetBoolean(fmt.Sprintf("missing/%d", id), legacy.Status != tracker.StatusOK); err != nil {
			return err
		}
		if err := r.sink.SetDouble(fmt.Sprintf("msgCount/%d", id), float64(legacy.TotalCount)); err != nil {
			return err
		}
		if err := r.sink.SetString(fmt.Sprintf("status/%d", id), legacy.Status.String()); err != nil {
			return err
		}
		if err := r.sink.SetDouble(fmt.Sprintf("ageSec/%d", id), ageSec); err != nil {
			return err
		}
		if err := r.sink.SetString(fmt.Sprintf("type/%d", id), "Mixed"); err != nil {
			return err
		}
	}

	return nil
}

// PrintSummary печатает блок сводки: шапку со скоростями, строку
// "Pit check", строку на устройство и строку на группу.
func (r *Reporter) PrintSummary(now time.Time, fps, eps float64, title string) {
	snap := r.trk.Snapshot()
	specs := r.agg.Specs()

	missingCount := 0
	deviceLines := make([]string, 0, len(specs))
	for _, spec := range specs {
		rec := snap.Get(spec.Key)
		status, age := tracker.Classify(rec.LastSeen, now, r.agg.Timeout())
		if status != tracker.StatusOK {
			missingCount++
		}
		ageText := "n/a"
		if status != tracker.StatusMissing {
			ageText = fmt.Sprintf("%.2fs", age.Seconds())
		}
		deviceLines = append(deviceLines, fmt.Sprintf(
			"  id %2d  label=%-8s  count=%-6d  status=%-7s  age=%s",
			spec.Key.DeviceID, spec.Label, rec.Count, status, ageText))
	}

	fmt.Fprintf(r.out, "%s @ %s\n", title, now.Format("15:04:05"))
	fmt.Fprintf(r.out, "  Pit check: seen=%d/%d missing=%d frames/s=%.1f errors/s=%.2f\n",
		len(specs)-missingCount, len(specs), missingCount, fps, eps)
	for _, line := range deviceLines {
		fmt.Fprintln(r.out, line)
	}
	for _, g := range r.agg.Groups() {
		seen, missing := r.agg.GroupRollup(g, snap, now)
		fmt.Fprintf(r.out, "  Group %s: seen=%d/%d missing=%d\n", g.Name, seen, len(g.Keys), missing)
	}
}

// FlushSummary печатает внеочередную сводку (финальную при завершении
// или разовую в режиме быстрой проверки), оценивая прошедшее время по
// возможности: от предыдущей сводки, иначе из переданного запасного
// интервала.
func (r *Reporter) FlushSummary(now time.Time, fallback time.Duration, title string) {
	elapsed := fallback
	if !r.lastSummary.IsZero() {
		elapsed = now.Sub(r.lastSummary)
	}
	frames, errs := r.summaryWin.Take()
	fps, eps := tracker.Rates(frames, errs, elapsed)
	r.PrintSummary(now, fps, eps, title)
	r.lastSummary = now
}

// Close освобождает ресурсы репортёра (файл CSV-журнала). Повторный
// вызов безопасен.
func (r *Reporter) Close() error {
	if r.csv == nil {
		return nil
	}
	return r.csv.Close()
}
