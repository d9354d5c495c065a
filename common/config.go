package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/serebryakov7/can-diag/internal/canid"
)

// Настройки по умолчанию
const (
	DefaultBroker        = "tcp://172.22.11.2:1883"
	DefaultInterface     = "slcan"
	DefaultBitrate       = 1_000_000
	DefaultTimeout       = 1 * time.Second
	DefaultPublishPeriod = 200 * time.Millisecond
	DefaultSummaryPeriod = 2 * time.Second
	DefaultLogPeriod     = 1 * time.Second
	DefaultNoTraffic     = 5 * time.Second
	DefaultNoTelemetry   = 5 * time.Second
	DefaultQuickWait     = 1 * time.Second
)

// DeviceSpec описывает одно ожидаемое устройство на шине: ключ, подпись
// для отображения и (необязательно) имя группы. Создаётся при старте из
// конфигурации и дальше не меняется. Отсутствие DeviceSpec не мешает
// отслеживать устройство — спецификация влияет только на отчёты.
type DeviceSpec struct {
	Key   canid.DeviceKey
	Label string
	Group string
}

// GroupRef — элемент явного описания группы в конфигурации:
// либо подпись устройства, либо голый номер устройства.
type GroupRef struct {
	Label string
	ID    uint8
	ByID  bool
}

// Config — полностью разрешённая конфигурация агента. Ядро само не
// разбирает ни файлов, ни аргументов: всё собирается в main и передаётся
// сюда готовым.
type Config struct {
	Broker    string // адрес брокера телеметрии
	Interface string // транспорт шины: slcan или socketcan
	Channel   string // последовательный порт (slcan) или имя CAN-интерфейса
	Bitrate   int

	Timeout       time.Duration // возраст, после которого устройство считается STALE
	PublishPeriod time.Duration // период публикации в телеметрию (0 — отключено)
	SummaryPeriod time.Duration // период сводки в консоль (0 — отключено)
	LogCSV        string        // путь к CSV-журналу (пусто — отключено)
	LogPeriod     time.Duration // период строк CSV (0 — отключено)
	NoTraffic     time.Duration // период предупреждений об отсутствии трафика
	NoTelemetry   time.Duration // период предупреждений об отсутствии связи с телеметрией

	Verbose      bool
	PrintPublish bool // печатать появление устройства после пропажи
	QuickCheck   bool
	QuickWait    time.Duration

	RegistryPath  string // путь к bbolt-реестру обнаруженных устройств (пусто — отключено)
	RegistryClear bool   // сбросить реестр при старте

	// LegacyMode включает устаревшую гранулярность идентификации:
	// только номер устройства, без производителя и типа.
	LegacyMode bool
	Devices    []DeviceSpec
	DeviceIDs  []uint8
	Groups     map[string][]GroupRef
}

// DefaultDevices — таблица устройств по умолчанию, если конфигурация
// не задаёт свою.
func DefaultDevices() []DeviceSpec {
	return []DeviceSpec{
		{Key: canid.DeviceKey{Manufacturer: 5, DeviceType: 2, DeviceID: 22}, Label: "NEO 22", Group: "neos"},
		{Key: canid.DeviceKey{Manufacturer: 5, DeviceType: 2, DeviceID: 25}, Label: "NEO 25", Group: "neos"},
		{Key: canid.DeviceKey{Manufacturer: 5, DeviceType: 2, DeviceID: 10}, Label: "NEO 10", Group: "neos"},
	}
}

// DefaultLegacyLabels подписывает голые номера устройств по диапазонам
// стандартной раскладки шасси: NEO, KRAKEN и CANCoder. Номера вне
// раскладки получают подпись "Unknown".
func DefaultLegacyLabels(ids []uint8) map[uint8]string {
	neo := map[uint8]bool{1: true, 4: true, 7: true, 10: true}
	kraken := map[uint8]bool{2: true, 5: true, 8: true, 11: true}
	cancoder := map[uint8]bool{3: true, 6: true, 9: true, 12: true}

	labels := make(map[uint8]string, len(ids))
	for _, id := range ids {
		switch {
		case cancoder[id]:
			labels[id] = "CANCoder"
		case kraken[id]:
			labels[id] = "KRAKEN"
		case neo[id]:
			labels[id] = "NEO"
		default:
			labels[id] = "Unknown"
		}
	}
	return labels
}

// ParseIDs разбирает список номеров устройств вида "22,25,10".
func ParseIDs(value string) ([]uint8, error) {
	var ids []uint8
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("некорректный номер устройства %q: %w", part, err)
		}
		if n < 0 || n > 63 {
			return nil, fmt.Errorf("номер устройства %d вне диапазона 0-63", n)
		}
		ids = append(ids, uint8(n))
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("ожидался хотя бы один номер устройства")
	}
	return ids, nil
}

// CoerceDevices приводит сырое значение "devices" из конфигурации к списку
// DeviceSpec. Некорректные записи отбрасываются по одной, не прерывая
// запуск.
func CoerceDevices(raw any) []DeviceSpec {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	var devices []DeviceSpec
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		manufacturer, ok1 := coerceInt(entry["manufacturer"])
		deviceType, ok2 := coerceInt(entry["device_type"])
		deviceID, ok3 := coerceInt(entry["device_id"])
		if !ok1 || !ok2 || !ok3 {
			continue
		}
		label, _ := entry["label"].(string)
		if label == "" {
			label = fmt.Sprintf("%d:%d:%d", manufacturer, deviceType, deviceID)
		}
		group, _ := entry["group"].(string)
		devices = append(devices, DeviceSpec{
			Key: canid.DeviceKey{
				Manufacturer: uint8(manufacturer),
				DeviceType:   uint8(deviceType),
				DeviceID:     uint8(deviceID),
			},
			Label: label,
			Group: group,
		})
	}
	return devices
}

// CoerceGroups приводит сырое значение "groups" из конфигурации к явным
// описаниям групп. Элемент группы — либо подпись устройства (строка),
// либо голый номер устройства (число). Непонятные элементы отбрасываются.
func CoerceGroups(raw any) map[string][]GroupRef {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	groups := make(map[string][]GroupRef)
	for name, value := range m {
		items, ok := value.([]any)
		if !ok {
			continue
		}
		var refs []GroupRef
		for _, item := range items {
			if label, ok := item.(string); ok {
				refs = append(refs, GroupRef{Label: label})
				continue
			}
			if n, ok := coerceInt(item); ok && n >= 0 && n <= 63 {
				refs = append(refs, GroupRef{ID: uint8(n), ByID: true})
			}
		}
		if len(refs) > 0 {
			groups[name] = refs
		}
	}
	return groups
}

// CoerceLabels приводит сырое значение "labels" (подписи по голым
// номерам устройств для устаревшего режима) к карте номер-подпись.
func CoerceLabels(raw any) map[uint8]string {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	labels := make(map[uint8]string)
	for key, value := range m {
		id, err := strconv.Atoi(key)
		if err != nil || id < 0 || id > 63 {
			continue
		}
		if label, ok := value.(string); ok {
			labels[uint8(id)] = label
		}
	}
	return labels
}

// coerceInt принимает целые в том виде, в каком их отдают JSON-декодеры.
func coerceInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
