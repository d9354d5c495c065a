// Package canbus содержит транспорты CAN-шины: slcan-адаптер на
// последовательном порту и SocketCAN (только linux). Транспорт отдаёт
// кадры по одному с ограниченным ожиданием; весь разбор идентичности
// кадра живёт выше, в canid.
package canbus

import (
	"errors"
	"fmt"
	"time"
)

// Типы транспорта, выбираются конфигурацией.
const (
	InterfaceSLCAN     = "slcan"
	InterfaceSocketCAN = "socketcan"
)

// ErrClosed возвращается из Receive после закрытия транспорта.
var ErrClosed = errors.New("транспорт шины закрыт")

// Frame — один кадр шины. Для ошибочного кадра значим только IsError:
// идентичности устройства он не несёт.
type Frame struct {
	ID       uint32 // арбитражный идентификатор без служебных флагов
	Extended bool
	IsError  bool
	Data     []byte
}

// Bus — источник кадров. Receive ждёт кадр не дольше timeout;
// отсутствие кадра за это время — не ошибка, возвращается (nil, nil).
// Фатальные состояния транспорта возвращаются ошибкой.
type Bus interface {
	Receive(timeout time.Duration) (*Frame, error)
	Close() error
}

// Open создаёт транспорт по имени из конфигурации.
func Open(iface, channel string, bitrate int) (Bus, error) {
	switch iface {
	case InterfaceSLCAN:
		return openSLCAN(channel, bitrate)
	case InterfaceSocketCAN:
		return openSocketCAN(channel)
	default:
		return nil, fmt.Errorf("неизвестный транспорт шины: %q", iface)
	}
}
