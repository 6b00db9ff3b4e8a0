// Package protocol содержит идентификаторы, типы клиентских действий
// и ответов сервера, а также формат кадров, передаваемых по сети.
package protocol

// NetID идентификатор сетевого соединения, выдаваемый транспортом
type NetID int32

// PID постоянный идентификатор игрока
type PID int32

// EntityID идентификатор объекта мира внутри инстанса
type EntityID int32

// AllPlayers в поле TargetPID чата означает сообщение всем игрокам зоны
const AllPlayers PID = -1
