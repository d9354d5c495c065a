package tracker

import "time"

// Window накапливает счётчики кадров и ошибок для одного потребителя
// отчётов (сводка, CSV-журнал). Каждый потребитель держит своё окно и
// сбрасывает его в момент собственного отчёта, поэтому окна друг другу
// не мешают.
type Window struct {
	frames uint64
	errors uint64
}

func (w *Window) addFrame() { w.frames++ }
func (w *Window) addError() { w.errors++ }

// Take возвращает накопленные счётчики и обнуляет окно.
func (w *Window) Take() (frames, errors uint64) {
	frames, errors = w.frames, w.errors
	w.frames, w.errors = 0, 0
	return frames, errors
}

// Rates переводит счётчики окна в кадры/с и ошибки/с за прошедший
// интервал. Интервал передаёт потребитель: время с его предыдущего
// отчёта, либо настроенный период, если отчёт первый (особенность
// исходного поведения, сохранена намеренно).
func Rates(frames, errors uint64, elapsed time.Duration) (fps, eps float64) {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return 0, 0
	}
	return float64(frames) / secs, float64(errors) / secs
}
