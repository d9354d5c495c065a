//go:build linux

package canbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// Транспорт SocketCAN: RAW-сокет AF_CAN с подпиской на ошибочные кадры,
// чтобы счётчик ошибок шины видел их наравне с данными.
type socketCANBus struct {
	fd    int
	rdbuf []byte
}

func openSocketCAN(channel string) (*socketCANBus, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать CAN-сокет: %w", err)
	}

	iface, err := net.InterfaceByName(channel)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("InterfaceByName %q: %w", channel, err)
	}

	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: iface.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("не удалось привязать CAN-сокет к %s: %w", channel, err)
	}

	// Подписка на ошибочные кадры ядра; без неё RAW-сокет их не отдаёт.
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_ERR_FILTER, unix.CAN_ERR_MASK); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("не удалось включить приём ошибочных кадров: %w", err)
	}

	// can_frame занимает 16 байт.
	return &socketCANBus{fd: fd, rdbuf: make([]byte, 16)}, nil
}

// Receive ждёт готовности сокета не дольше timeout и читает один кадр.
func (b *socketCANBus) Receive(timeout time.Duration) (*Frame, error) {
	if b.fd == -1 {
		return nil, ErrClosed
	}

	pfd := []unix.PollFd{{Fd: int32(b.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, int(timeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка ожидания CAN-сокета: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	read, err := unix.Read(b.fd, b.rdbuf)
	if err != nil {
		if errors.Is(err, unix.EBADF) || b.fd == -1 {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("ошибка чтения CAN-сокета: %w", err)
	}
	if read < 16 {
		return nil, nil
	}

	// Раскладка can_frame: id(4, порядок байт хоста), dlc(1), пад(3),
	// данные(8). Целевые платформы little-endian.
	rawID := binary.LittleEndian.Uint32(b.rdbuf[0:4])
	dlc := b.rdbuf[4]
	if dlc > 8 {
		dlc = 8
	}
	frame := &Frame{
		ID:       rawID & unix.CAN_EFF_MASK,
		Extended: rawID&unix.CAN_EFF_FLAG != 0,
		IsError:  rawID&unix.CAN_ERR_FLAG != 0,
		Data:     append([]byte(nil), b.rdbuf[8:8+dlc]...),
	}
	return frame, nil
}

// Close закрывает сокет. Повторный вызов безопасен: fd помечается
// закрытым, как в остальных транспортах.
func (b *socketCANBus) Close() error {
	if b.fd == -1 {
		return nil
	}
	fd := b.fd
	b.fd = -1
	return unix.Close(fd)
}
