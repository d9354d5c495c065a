package canid

import "fmt"

// Раскладка 29-битного расширенного идентификатора CAN (FRC):
//
//	биты 24-28 — тип устройства (5 бит)
//	биты 16-23 — производитель (8 бит)
//	биты 10-15 — класс API (6 бит)
//	биты  6-9  — индекс API (4 бита)
//	биты  0-5  — номер устройства (6 бит)
const (
	deviceTypeShift = 24
	deviceTypeMask  = 0x1F
	manufShift      = 16
	manufMask       = 0xFF
	apiClassShift   = 10
	apiClassMask    = 0x3F
	apiIndexShift   = 6
	apiIndexMask    = 0x0F
	deviceIDMask    = 0x3F
)

// DeviceKey однозначно идентифицирует физическое устройство на шине.
// Два кадра с одинаковым ключом — это одно и то же устройство.
type DeviceKey struct {
	Manufacturer uint8
	DeviceType   uint8
	DeviceID     uint8
}

func (k DeviceKey) String() string {
	return fmt.Sprintf("%d:%d:%d", k.Manufacturer, k.DeviceType, k.DeviceID)
}

// Fields содержит все поля расширенного идентификатора.
// ApiClass и ApiIndex для отслеживания живости не нужны,
// но декодируются для полноты.
type Fields struct {
	Manufacturer uint8
	DeviceType   uint8
	ApiClass     uint8
	ApiIndex     uint8
	DeviceID     uint8
}

// Key возвращает идентификационный кортеж устройства.
func (f Fields) Key() DeviceKey {
	return DeviceKey{
		Manufacturer: f.Manufacturer,
		DeviceType:   f.DeviceType,
		DeviceID:     f.DeviceID,
	}
}

// Decode разбирает расширенный идентификатор по фиксированной раскладке.
// Функция тотальна: любой 29-битный идентификатор даёт валидный результат,
// условий ошибки нет.
func Decode(arb uint32) Fields {
	return Fields{
		DeviceType:   uint8((arb >> deviceTypeShift) & deviceTypeMask),
		Manufacturer: uint8((arb >> manufShift) & manufMask),
		ApiClass:     uint8((arb >> apiClassShift) & apiClassMask),
		ApiIndex:     uint8((arb >> apiIndexShift) & apiIndexMask),
		DeviceID:     uint8(arb & deviceIDMask),
	}
}

// LegacyDeviceID извлекает только номер устройства (младшие 6 бит).
// Используется в устаревшем режиме, когда производитель и тип
// устройства не отслеживаются.
func LegacyDeviceID(arb uint32) uint8 {
	return uint8(arb & deviceIDMask)
}

// LegacyKey строит ключ для устаревшего режима: производитель и тип
// обнулены, значим только номер устройства.
func LegacyKey(id uint8) DeviceKey {
	return DeviceKey{DeviceID: id}
}
