//go:build !linux

package canbus

import "errors"

// SocketCAN есть только в ядре linux; на остальных платформах
// доступен транспорт slcan.
func openSocketCAN(channel string) (Bus, error) {
	return nil, errors.New("транспорт socketcan поддерживается только на linux")
}
