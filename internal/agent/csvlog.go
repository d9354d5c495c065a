package agent

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/serebryakov7/can-diag/internal/canid"
	"github.com/serebryakov7/can-diag/internal/tracker"
)

// csvLog пишет периодические строки состояния в CSV-файл. Файл
// открывается лениво, при первом событии журнала, и дополняется в конец;
// заголовок пишется один раз за запуск. Порядок колонок фиксирован:
// базовые счётчики, тройки по устройствам, пары по группам.
type csvLog struct {
	path       string
	legacyMode bool
	file       *os.File
	headerDone bool
}

func newCSVLog(path string, legacyMode bool) *csvLog {
	return &csvLog{path: path, legacyMode: legacyMode}
}

// columnKey — префикс колонок одного устройства.
func (l *csvLog) columnKey(key canid.DeviceKey) string {
	if l.legacyMode {
		return fmt.Sprintf("id%d", key.DeviceID)
	}
	return fmt.Sprintf("m%d_t%d_id%d", key.Manufacturer, key.DeviceType, key.DeviceID)
}

func (l *csvLog) writeHeader(agg *tracker.Aggregator) error {
	cols := []string{"timestamp", "busErrorCount", "framesPerSec", "errorsPerSec"}
	for _, spec := range agg.Specs() {
		key := l.columnKey(spec.Key)
		cols = append(cols, key+"_count", key+"_ageSec", key+"_status")
	}
	for _, g := range agg.Groups() {
		cols = append(cols, "group_"+g.Name+"_seen", "group_"+g.Name+"_missing")
	}
	_, err := l.file.WriteString(strings.Join(cols, ",") + "\n")
	return err
}

// WriteRow добавляет одну строку данных, при необходимости открыв файл и
// записав заголовок. Форматы: метка времени — 3 знака, скорости — 2,
// возраст — 3 (пустая строка, если устройство не видели).
func (l *csvLog) WriteRow(now time.Time, busErrors uint64, fps, eps float64, agg *tracker.Aggregator, snap tracker.Snapshot) error {
	if l.file == nil {
		f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("ошибка открытия CSV-журнала %s: %w", l.path, err)
		}
		l.file = f
	}
	if !l.headerDone {
		if err := l.writeHeader(agg); err != nil {
			return err
		}
		l.headerDone = true
	}

	row := []string{
		fmt.Sprintf("%.3f", float64(now.UnixNano())/1e9),
		strconv.FormatUint(busErrors, 10),
		fmt.Sprintf("%.2f", fps),
		fmt.Sprintf("%.2f", eps),
	}
	for _, spec := range agg.Specs() {
		rec := snap.Get(spec.Key)
		status, age := tracker.Classify(rec.LastSeen, now, agg.Timeout())
		row = append(row, strconv.FormatUint(rec.Count, 10))
		if status == tracker.StatusMissing {
			row = append(row, "")
		} else {
			row = append(row, fmt.Sprintf("%.3f", age.Seconds()))
		}
		row = append(row, status.String())
	}
	for _, g := range agg.Groups() {
		seen, missing := agg.GroupRollup(g, snap, now)
		row = append(row, strconv.Itoa(seen), strconv.Itoa(missing))
	}

	_, err := l.file.WriteString(strings.Join(row, ",") + "\n")
	return err
}

// Close закрывает файл журнала. Повторный вызов безопасен.
func (l *csvLog) Close() error {
	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	return f.Close()
}
