package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"quantfolio/internal/store"
)

// startReviewServer 暴露只读的流水复盘接口。进程退出时随 ctx 优雅关闭。
func startReviewServer(ctx context.Context, journal *store.Journal, port int, logger *zap.Logger) {
	parseLimit := func(r *http.Request) int {
		limit := 200
		if qs := r.URL.Query().Get("limit"); qs != "" {
			if v, err := strconv.Atoi(qs); err == nil && v > 0 {
				if v > 1000 {
					v = 1000
				}
				limit = v
			}
		}
		return limit
	}

	writeJSON := func(w http.ResponseWriter, payload any) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			logger.Warn("写入复盘响应失败", zap.Error(err))
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		records, err := journal.ListOrders(r.Context(), parseLimit(r))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, records)
	})
	mux.HandleFunc("/transactions", func(w http.ResponseWriter, r *http.Request) {
		records, err := journal.ListTransactions(r.Context(), parseLimit(r))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, records)
	})

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("关闭复盘服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("复盘服务异常", zap.Error(err))
		}
	}()

	logger.Info("复盘接口已启动", zap.String("addr", addr))
}
