package sse

import (
	"net/http"

	sse "github.com/r3labs/sse/v2"
)

// Hub раздаёт события запусков по SSE; поток = id запуска.
// Подписчик, подключившийся позже, получает уже опубликованные события.
type Hub struct {
	server *sse.Server
}

func New() *Hub {
	s := sse.New()
	s.AutoReplay = true
	s.AutoStream = false
	return &Hub{server: s}
}

// Open создаёт поток для id, если его ещё нет
func (h *Hub) Open(id string) {
	if !h.server.StreamExists(id) {
		h.server.CreateStream(id)
	}
}

// Publish отсылает сообщение всем подписчикам id. Сообщения в незарегистрированный поток отбрасываются.
func (h *Hub) Publish(id, msg string) {
	h.server.Publish(id, &sse.Event{
		Event: []byte("msg"),
		Data:  []byte(msg),
	})
}

// Close удаляет поток и отключает подписчиков
func (h *Hub) Close(id string) {
	h.server.RemoveStream(id)
}

func (h *Hub) Exists(id string) bool {
	return h.server.StreamExists(id)
}

// ServeHTTP — SSE-стрим, поток выбирается параметром ?stream=
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.server.ServeHTTP(w, r)
}

// Shutdown закрывает все потоки
func (h *Hub) Shutdown() {
	h.server.Close()
}
