package metrics

import (
	"sync"
	"time"
)

// Скользящее окно событий за сутки с разбивкой по источнику
// (api, kafka, iso)

type timeSlot struct {
	Timestamp time.Time
	Source    string
}

var (
	mu            sync.Mutex
	allTimestamps []timeSlot
)

// RecordEvent - зарегистрировать одно событие источника
func RecordEvent(source string) {
	mu.Lock()
	defer mu.Unlock()

	now := time.Now()
	allTimestamps = append(allTimestamps, timeSlot{
		Timestamp: now,
		Source:    source,
	})

	// Удалим всё, что старше суток
	cutoff := now.Add(-24 * time.Hour)
	i := 0
	for ; i < len(allTimestamps); i++ {
		if allTimestamps[i].Timestamp.After(cutoff) {
			break
		}
	}
	allTimestamps = allTimestamps[i:]
}

// CountSince - количество событий источника за период.
// Пустой source считает по всем источникам
func CountSince(source string, d time.Duration) int {
	mu.Lock()
	defer mu.Unlock()

	cutoff := time.Now().Add(-d)
	sum := 0
	for _, slot := range allTimestamps {
		if slot.Timestamp.After(cutoff) && (source == "" || slot.Source == source) {
			sum++
		}
	}
	return sum
}
