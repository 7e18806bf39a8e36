package service

import "errors"

// Ожидаемые исходы протокола. Это не исключительные ситуации: ядро
// превращает их либо в самовосстановление (запрос ключа), либо в
// видимое локальное состояние (недоставленное сообщение).
var (
	// ErrMissingKey - публичный ключ получателя неизвестен. Побочный
	// эффект: пиру уже отправлен запрос ключа.
	ErrMissingKey = errors.New("публичный ключ контакта неизвестен")

	// ErrBusy - уже есть активный звонок. Новый звонок или входящий
	// offer отклоняются, пока текущая сессия не завершена.
	ErrBusy = errors.New("звонок уже активен")

	// ErrResourceInit - медиадвижок не смог инициализироваться.
	// Терминально для этой попытки звонка, повторов нет.
	ErrResourceInit = errors.New("не удалось инициализировать медиадвижок")
)

// ConversationTracker сообщает сервисам, какой разговор открыт сейчас.
// Открытый разговор меняет поведение входящих: сообщения сразу помечаются
// прочитанными, уведомления не показываются.
type ConversationTracker interface {
	CurrentConversation() string
}

// Notifier - граница с системой уведомлений. Вызывается только когда
// разговор с отправителем не открыт.
type Notifier interface {
	NotifyMessage(fromUUID, nickname, content string)
	NotifyFile(fromUUID, nickname, fileName string)
}
