// Пакет lifecycle: конечный автомат статусов архива.
//
// Жизненный цикл:
//   - downloading → unpacking → ok
//   - failed достижим из downloading и unpacking
//
// Из ok и failed переходов нет.
package lifecycle

import (
	"fmt"
	"sync"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
)

// validTransitions: матрица допустимых переходов.
// Ключ: текущий статус, значение: набор допустимых целевых статусов.
var validTransitions = map[model.ArchiveStatus]map[model.ArchiveStatus]bool{
	model.StatusDownloading: {model.StatusUnpacking: true, model.StatusFailed: true},
	model.StatusUnpacking:   {model.StatusCompleted: true, model.StatusFailed: true},
	model.StatusCompleted:   {},
	model.StatusFailed:      {},
}

// CanTransition проверяет, допустим ли переход from → to.
func CanTransition(from, to model.ArchiveStatus) bool {
	transitions, ok := validTransitions[from]
	if !ok {
		return false
	}
	return transitions[to]
}

// Machine: автомат статуса одного архива.
// Принадлежит единице работы архива; мьютекс нужен только для чтения
// статуса из других горутин (Delete, метрики).
type Machine struct {
	mu      sync.Mutex
	current model.ArchiveStatus
}

// New создаёт автомат с начальным статусом.
func New(initial model.ArchiveStatus) (*Machine, error) {
	if _, ok := validTransitions[initial]; !ok {
		return nil, fmt.Errorf("недопустимый начальный статус: %q", initial)
	}
	return &Machine{current: initial}, nil
}

// Current возвращает текущий статус.
func (m *Machine) Current() model.ArchiveStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// TransitionTo выполняет переход. Возвращает *TransitionError, если переход
// недопустим; статус при этом не меняется.
func (m *Machine) TransitionTo(target model.ArchiveStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !CanTransition(m.current, target) {
		return &TransitionError{From: m.current, To: target}
	}
	m.current = target
	return nil
}

// TransitionError: недопустимый переход между статусами.
type TransitionError struct {
	From model.ArchiveStatus
	To   model.ArchiveStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("INVALID_TRANSITION: переход %s → %s недопустим", e.From, e.To)
}

// ParseStatus преобразует строку в ArchiveStatus.
func ParseStatus(s string) (model.ArchiveStatus, error) {
	st := model.ArchiveStatus(s)
	if _, ok := validTransitions[st]; !ok {
		return "", fmt.Errorf("недопустимый статус: %q, допустимые: downloading, unpacking, ok, failed", s)
	}
	return st, nil
}
