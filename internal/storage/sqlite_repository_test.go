package storage

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Не удалось открыть тестовую базу: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestIdentityRoundTrip(t *testing.T) {
	repo := newTestRepo(t)

	// До создания личности - (nil, nil).
	id, err := repo.LoadIdentity()
	if err != nil {
		t.Fatalf("Ошибка загрузки: %v", err)
	}
	if id != nil {
		t.Fatal("Пустая база не должна содержать личность")
	}

	saved := &Identity{DeviceID: "dev-1", PublicKey: "pub", PrivateKey: "priv"}
	if err := repo.SaveIdentity(saved); err != nil {
		t.Fatalf("Ошибка сохранения: %v", err)
	}

	id, err = repo.LoadIdentity()
	if err != nil {
		t.Fatalf("Ошибка загрузки: %v", err)
	}
	if id == nil || id.DeviceID != "dev-1" || id.PrivateKey != "priv" {
		t.Errorf("Личность искажена: %+v", id)
	}
}

// Повторная вставка контакта обновляет только ключ, никнейм сохраняется.
func TestInsertContactUpsertsKeyOnly(t *testing.T) {
	repo := newTestRepo(t)

	if err := repo.InsertContact(&Contact{UUID: "c-1", Nickname: "Алиса"}); err != nil {
		t.Fatalf("Ошибка вставки: %v", err)
	}
	if err := repo.InsertContact(&Contact{UUID: "c-1", PublicKey: "key-2"}); err != nil {
		t.Fatalf("Ошибка повторной вставки: %v", err)
	}

	c, err := repo.GetContact("c-1")
	if err != nil {
		t.Fatalf("Ошибка чтения: %v", err)
	}
	if c.PublicKey != "key-2" {
		t.Errorf("Ключ не обновлен: %q", c.PublicKey)
	}
	if c.Nickname != "Алиса" {
		t.Errorf("Никнейм потерян при upsert: %q", c.Nickname)
	}
}

// Повторная вставка с пустым ключом не затирает уже полученный ключ.
func TestInsertContactEmptyKeyKeepsExisting(t *testing.T) {
	repo := newTestRepo(t)

	if err := repo.InsertContact(&Contact{UUID: "c-1", PublicKey: "key-1", Nickname: "Алиса"}); err != nil {
		t.Fatalf("Ошибка вставки: %v", err)
	}
	if err := repo.InsertContact(&Contact{UUID: "c-1", Nickname: "Другое имя"}); err != nil {
		t.Fatalf("Ошибка повторной вставки: %v", err)
	}

	c, err := repo.GetContact("c-1")
	if err != nil {
		t.Fatalf("Ошибка чтения: %v", err)
	}
	if c.PublicKey != "key-1" {
		t.Errorf("Пустой ключ затер существующий: %q", c.PublicKey)
	}
	if c.Nickname != "Алиса" {
		t.Errorf("Никнейм изменен повторной вставкой: %q", c.Nickname)
	}
}

func TestGetContactMissing(t *testing.T) {
	repo := newTestRepo(t)
	c, err := repo.GetContact("nobody")
	if err != nil {
		t.Fatalf("Отсутствующий контакт не должен быть ошибкой: %v", err)
	}
	if c != nil {
		t.Errorf("Ожидался nil, получено: %+v", c)
	}
}

// Флаги доставки и прочтения двигаются только вперед.
func TestMessageFlagsMonotonic(t *testing.T) {
	repo := newTestRepo(t)

	id, err := repo.InsertMessage(&Message{
		ConversationID: "c-1", FromUUID: "self", Content: "привет",
		ContentType: "text", IsSent: true,
	})
	if err != nil {
		t.Fatalf("Ошибка вставки: %v", err)
	}

	if err := repo.MarkDelivered(id); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if err := repo.MarkOutgoingRead("c-1"); err != nil {
		t.Fatalf("MarkOutgoingRead: %v", err)
	}

	// Повторные пометки ничего не откатывают.
	if err := repo.MarkDelivered(id); err != nil {
		t.Fatalf("Повторный MarkDelivered: %v", err)
	}

	m, err := repo.GetMessageByID(id)
	if err != nil {
		t.Fatalf("Ошибка чтения: %v", err)
	}
	if !m.IsDelivered || !m.IsRead {
		t.Errorf("Ожидалось delivered+read, получено: %+v", m)
	}
}

// MarkOutgoingRead трогает только наши отправленные сообщения,
// MarkIncomingRead - только входящие.
func TestReadMarksDirectional(t *testing.T) {
	repo := newTestRepo(t)

	outID, _ := repo.InsertMessage(&Message{
		ConversationID: "c-1", FromUUID: "self", Content: "мое", IsSent: true,
	})
	inID, _ := repo.InsertMessage(&Message{
		ConversationID: "c-1", FromUUID: "c-1", Content: "чужое", IsDelivered: true,
	})

	if err := repo.MarkOutgoingRead("c-1"); err != nil {
		t.Fatalf("MarkOutgoingRead: %v", err)
	}
	in, _ := repo.GetMessageByID(inID)
	if in.IsRead {
		t.Error("MarkOutgoingRead не должен трогать входящие")
	}

	if err := repo.MarkIncomingRead("c-1"); err != nil {
		t.Fatalf("MarkIncomingRead: %v", err)
	}
	in, _ = repo.GetMessageByID(inID)
	if !in.IsRead {
		t.Error("Входящее не помечено прочитанным")
	}
	out, _ := repo.GetMessageByID(outID)
	if !out.IsRead {
		t.Error("Исходящее потеряло пометку")
	}
}

func TestUnreadCount(t *testing.T) {
	repo := newTestRepo(t)

	for i := 0; i < 3; i++ {
		repo.InsertMessage(&Message{ConversationID: "c-1", FromUUID: "c-1", Content: "x"})
	}
	repo.InsertMessage(&Message{ConversationID: "c-1", FromUUID: "self", Content: "y", IsSent: true})
	repo.InsertMessage(&Message{ConversationID: "c-2", FromUUID: "c-2", Content: "z"})

	n, err := repo.UnreadCount("c-1")
	if err != nil {
		t.Fatalf("UnreadCount: %v", err)
	}
	if n != 3 {
		t.Errorf("Ожидалось 3 непрочитанных, получено: %d", n)
	}

	if err := repo.MarkIncomingRead("c-1"); err != nil {
		t.Fatalf("MarkIncomingRead: %v", err)
	}
	n, _ = repo.UnreadCount("c-1")
	if n != 0 {
		t.Errorf("После прочтения ожидалось 0, получено: %d", n)
	}
}

func TestConversationPreviews(t *testing.T) {
	repo := newTestRepo(t)

	repo.InsertMessage(&Message{ConversationID: "c-1", FromUUID: "c-1", Content: "старое"})
	repo.InsertMessage(&Message{ConversationID: "c-1", FromUUID: "self", Content: "новое", IsSent: true})
	repo.InsertMessage(&Message{ConversationID: "c-2", FromUUID: "c-2", Content: "другое"})

	previews, err := repo.ConversationPreviews()
	if err != nil {
		t.Fatalf("ConversationPreviews: %v", err)
	}
	if len(previews) != 2 {
		t.Fatalf("Ожидалось 2 разговора, получено: %d", len(previews))
	}
	if previews["c-1"].Content != "новое" {
		t.Errorf("Превью c-1 не последнее сообщение: %q", previews["c-1"].Content)
	}
}

func TestDeleteConversation(t *testing.T) {
	repo := newTestRepo(t)

	repo.InsertMessage(&Message{ConversationID: "c-1", FromUUID: "c-1", Content: "a"})
	repo.InsertMessage(&Message{ConversationID: "c-2", FromUUID: "c-2", Content: "b"})

	if err := repo.DeleteConversation("c-1"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}

	msgs, _ := repo.GetMessages("c-1", 0)
	if len(msgs) != 0 {
		t.Errorf("Разговор не удален: %d сообщений", len(msgs))
	}
	msgs, _ = repo.GetMessages("c-2", 0)
	if len(msgs) != 1 {
		t.Errorf("Чужой разговор пострадал: %d сообщений", len(msgs))
	}
}

func TestStatusExpiry(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now()

	repo.InsertStatus(&Status{FromUUID: "c-1", Content: "живой", ExpiresAt: now.Add(time.Hour)})
	repo.InsertStatus(&Status{FromUUID: "c-2", Content: "протух", ExpiresAt: now.Add(-time.Hour)})

	active, err := repo.GetActiveStatuses()
	if err != nil {
		t.Fatalf("GetActiveStatuses: %v", err)
	}
	if len(active) != 1 || active[0].Content != "живой" {
		t.Fatalf("Ожидался только живой статус, получено: %+v", active)
	}

	n, err := repo.DeleteExpiredStatuses()
	if err != nil {
		t.Fatalf("DeleteExpiredStatuses: %v", err)
	}
	if n != 1 {
		t.Errorf("Ожидалось удаление 1 статуса, удалено: %d", n)
	}
}

func TestDeleteStatusesFrom(t *testing.T) {
	repo := newTestRepo(t)
	exp := time.Now().Add(time.Hour)

	repo.InsertStatus(&Status{FromUUID: "c-1", Content: "a", ExpiresAt: exp})
	repo.InsertStatus(&Status{FromUUID: "c-2", Content: "b", ExpiresAt: exp})

	if err := repo.DeleteStatusesFrom("c-1"); err != nil {
		t.Fatalf("DeleteStatusesFrom: %v", err)
	}
	active, _ := repo.GetActiveStatuses()
	if len(active) != 1 || active[0].FromUUID != "c-2" {
		t.Errorf("Удалены не те статусы: %+v", active)
	}
}
