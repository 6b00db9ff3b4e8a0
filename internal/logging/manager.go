package logging

import (
	"sort"
	"sync"
)

// Имена компонентов, под которыми пишут пакеты сервера
const (
	ComponentServer   = "server"
	ComponentNetwork  = "network"
	ComponentSession  = "session"
	ComponentGame     = "game"
	ComponentStorage  = "storage"
	ComponentAPI      = "api"
	ComponentEventBus = "eventbus"
)

// components кэш логгеров по имени компонента
var components sync.Map

// GetComponentLogger возвращает логгер с полем component.
// Повторные вызовы с тем же именем отдают тот же логгер.
func GetComponentLogger(component string) *Logger {
	if l, ok := components.Load(component); ok {
		return l.(*Logger)
	}
	baseMu.RLock()
	l := &Logger{entry: base.WithField("component", component)}
	baseMu.RUnlock()

	actual, _ := components.LoadOrStore(component, l)
	return actual.(*Logger)
}

// Components отсортированный список компонентов, уже получивших логгер
func Components() []string {
	var names []string
	components.Range(func(k, _ interface{}) bool {
		names = append(names, k.(string))
		return true
	})
	sort.Strings(names)
	return names
}

func GetNetworkLogger() *Logger { return GetComponentLogger(ComponentNetwork) }

func GetServerLogger() *Logger { return GetComponentLogger(ComponentServer) }

// GetGameLogger логгер инстансов карт
func GetGameLogger() *Logger { return GetComponentLogger(ComponentGame) }

func GetSessionLogger() *Logger { return GetComponentLogger(ComponentSession) }

func GetStorageLogger() *Logger { return GetComponentLogger(ComponentStorage) }
