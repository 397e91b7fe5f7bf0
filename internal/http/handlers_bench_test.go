package http

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kjstillabower/weather-snapshot-service/internal/cache"
)

func benchmarkStore() *cache.Store {
	store := cache.NewStore()
	store.Record(json.RawMessage(`{"lat":47.6,"lon":-122.3,"current":{"temp":284.2,"humidity":81}}`), nil, time.Now())
	return store
}

// BenchmarkHandler_GetData benchmarks the handler alone.
func BenchmarkHandler_GetData(b *testing.B) {
	handler := NewHandler(benchmarkStore(), nil)
	req := httptest.NewRequest("GET", "/data", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		handler.GetData(w, req)
	}
}

// BenchmarkRouter_GetData benchmarks the full middleware stack.
func BenchmarkRouter_GetData(b *testing.B) {
	router := NewRouter(NewHandler(benchmarkStore(), nil), nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/data", nil))
	}
}

// BenchmarkHandler_GetData_Parallel benchmarks concurrent readers.
func BenchmarkHandler_GetData_Parallel(b *testing.B) {
	handler := NewHandler(benchmarkStore(), nil)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			w := httptest.NewRecorder()
			handler.GetData(w, httptest.NewRequest("GET", "/data", nil))
		}
	})
}
