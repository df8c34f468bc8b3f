package questions

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrDuplicateStrategy is returned by Register when a slot type already has a validator.
var ErrDuplicateStrategy = errors.New("question strategy already registered")

// Validators are keyed by slot type (TypeText, TypeDateTime). The profile machine looks
// one up per answer, so the table is read far more often than it is written.
var (
	slotTypesMu sync.RWMutex
	slotTypes   = make(map[string]QuestionStrategy)

	builtinsOnce sync.Once
)

// RegisterBuiltins installs the free-text and date-time validators the profile slots use.
func RegisterBuiltins() {
	builtinsOnce.Do(func() {
		MustRegister(NewTextStrategy())
		MustRegister(NewDateTimeStrategy())
	})
}

func Register(strategy QuestionStrategy) error {
	if strategy == nil {
		return errors.New("register question strategy: nil strategy")
	}
	slotType := slotTypeKey(strategy.Name())
	if slotType == "" {
		return errors.New("register question strategy: empty slot type")
	}

	slotTypesMu.Lock()
	defer slotTypesMu.Unlock()
	if _, taken := slotTypes[slotType]; taken {
		return fmt.Errorf("register %q: %w", slotType, ErrDuplicateStrategy)
	}
	slotTypes[slotType] = strategy
	return nil
}

// MustRegister is Register for init-time wiring.
func MustRegister(strategy QuestionStrategy) {
	if err := Register(strategy); err != nil {
		panic(err)
	}
}

// Get returns the validator for a slot type, or nil.
func Get(slotType string) QuestionStrategy {
	slotTypesMu.RLock()
	defer slotTypesMu.RUnlock()
	return slotTypes[slotTypeKey(slotType)]
}

func MustGet(slotType string) QuestionStrategy {
	strategy := Get(slotType)
	if strategy == nil {
		panic(fmt.Sprintf("no question strategy for slot type %q", slotType))
	}
	return strategy
}

func slotTypeKey(slotType string) string {
	return strings.ToLower(strings.TrimSpace(slotType))
}

func resetRegistryForTests() {
	slotTypesMu.Lock()
	defer slotTypesMu.Unlock()
	slotTypes = make(map[string]QuestionStrategy)
	builtinsOnce = sync.Once{}
}
