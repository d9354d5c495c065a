package canbus

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/tarm/serial"
)

// slcan (протокол Lawicel): адаптер CAN на последовательном порту.
// Кадры приходят ASCII-строками, завершёнными '\r':
//
//	T<id:8hex><dlc:1><data:2*dlc hex>  — расширенный кадр
//	t<id:3hex><dlc:1><data:2*dlc hex>  — стандартный кадр
//	0x07 (BEL)                         — адаптер сообщил об ошибке
const (
	slcanLinkBaud    = 115200
	slcanReadTimeout = 10 * time.Millisecond
)

type slcanBus struct {
	port   *serial.Port
	acc    []byte // накопитель байтов до завершителя кадра
	rdbuf  []byte
	closed bool
}

// openSLCAN открывает порт и переводит адаптер в рабочий режим:
// закрыть канал, задать скорость CAN, открыть канал.
func openSLCAN(channel string, bitrate int) (*slcanBus, error) {
	code, err := slcanBitrateCode(bitrate)
	if err != nil {
		return nil, err
	}

	portConfig := &serial.Config{
		Name:        channel,
		Baud:        slcanLinkBaud,
		ReadTimeout: slcanReadTimeout,
	}
	port, err := serial.OpenPort(portConfig)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия порта %s: %w", channel, err)
	}

	b := &slcanBus{port: port, rdbuf: make([]byte, 128)}
	for _, cmd := range []string{"C\r", "S" + string(code) + "\r", "O\r"} {
		if _, err := port.Write([]byte(cmd)); err != nil {
			port.Close()
			return nil, fmt.Errorf("ошибка инициализации slcan-адаптера: %w", err)
		}
	}
	return b, nil
}

// slcanBitrateCode — код скорости CAN по Lawicel.
func slcanBitrateCode(bitrate int) (byte, error) {
	codes := map[int]byte{
		10_000:    '0',
		20_000:    '1',
		50_000:    '2',
		100_000:   '3',
		125_000:   '4',
		250_000:   '5',
		500_000:   '6',
		800_000:   '7',
		1_000_000: '8',
	}
	code, ok := codes[bitrate]
	if !ok {
		return 0, fmt.Errorf("скорость %d не поддерживается slcan", bitrate)
	}
	return code, nil
}

// Receive дочитывает байты из порта до завершённого кадра, но не дольше
// timeout. Чтение порта возвращается по короткому собственному таймауту,
// поэтому общий дедлайн проверяется между чтениями.
func (b *slcanBus) Receive(timeout time.Duration) (*Frame, error) {
	if b.closed {
		return nil, ErrClosed
	}
	deadline := time.Now().Add(timeout)
	for {
		if frame, ok := b.takeFrame(); ok {
			return frame, nil
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}

		n, err := b.port.Read(b.rdbuf)
		if err != nil && err.Error() != "EOF" {
			if b.closed {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("ошибка чтения порта: %w", err)
		}
		if n > 0 {
			b.acc = append(b.acc, b.rdbuf[:n]...)
		}
	}
}

// takeFrame снимает из накопителя первый распознанный кадр. Строки, не
// похожие на кадры, молча отбрасываются; BEL от адаптера считается
// ошибочным кадром.
func (b *slcanBus) takeFrame() (*Frame, bool) {
	for len(b.acc) > 0 {
		// BEL приходит без завершителя.
		if b.acc[0] == 0x07 {
			b.acc = b.acc[1:]
			return &Frame{IsError: true}, true
		}
		end := -1
		for i, c := range b.acc {
			if c == '\r' || c == '\n' {
				end = i
				break
			}
		}
		if end < 0 {
			return nil, false
		}
		line := b.acc[:end]
		b.acc = b.acc[end+1:]
		if frame, ok := parseSLCANLine(line); ok {
			return frame, true
		}
	}
	return nil, false
}

// parseSLCANLine разбирает одну строку slcan. Непонятные и неполные
// строки пропускаются без ошибки.
func parseSLCANLine(line []byte) (*Frame, bool) {
	if len(line) == 0 {
		return nil, false
	}
	var idLen int
	var extended bool
	switch line[0] {
	case 'T':
		idLen, extended = 8, true
	case 't':
		idLen, extended = 3, false
	default:
		// 'r'/'R' (remote) и ответы на команды здесь не нужны.
		return nil, false
	}
	if len(line) < 1+idLen+1 {
		return nil, false
	}

	var id uint32
	for _, c := range line[1 : 1+idLen] {
		d, ok := hexDigit(c)
		if !ok {
			return nil, false
		}
		id = id<<4 | uint32(d)
	}

	dlc, ok := hexDigit(line[1+idLen])
	if !ok || dlc > 8 {
		return nil, false
	}
	payload := line[1+idLen+1:]
	if len(payload) < int(dlc)*2 {
		return nil, false
	}
	data := make([]byte, dlc)
	if _, err := hex.Decode(data, payload[:int(dlc)*2]); err != nil {
		return nil, false
	}

	return &Frame{ID: id, Extended: extended, Data: data}, true
}

func hexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

// Close закрывает канал адаптера и порт. Повторный вызов безопасен.
func (b *slcanBus) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	b.port.Write([]byte("C\r")) // ошибка записи здесь уже не важна
	return b.port.Close()
}
