package image

import (
	"net/http"
	"time"
)

// fetchResult はHTTPステータスコードに基づく取得結果の分類。
type fetchResult int

const (
	// fetchOK は取得成功（200）。
	fetchOK fetchResult = iota
	// fetchRetry は再試行で回復しうるステータス（429/5xx）。
	fetchRetry
	// fetchStop はそれ以外の失敗。
	fetchStop
)

const (
	// maxFetchAttempts は外部URL取得の最大試行回数。
	maxFetchAttempts = 3
	// initialRetryDelay は再試行の初回待ち時間。
	initialRetryDelay = 200 * time.Millisecond
	// maxRetryDelay は再試行の最大待ち時間。
	maxRetryDelay = 2 * time.Second
)

// classifyStatus はHTTPステータスコードを取得結果に分類する。
func classifyStatus(statusCode int) fetchResult {
	switch {
	case statusCode == http.StatusOK:
		return fetchOK
	case statusCode == http.StatusTooManyRequests, statusCode >= 500:
		return fetchRetry
	default:
		return fetchStop
	}
}

// retryDelay はattempt回目（0始まり）の失敗後の待ち時間を返す。
// initialから2倍ずつ増加し、maxRetryDelayで頭打ちになる。
func retryDelay(initial time.Duration, attempt int) time.Duration {
	delay := initial
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}
