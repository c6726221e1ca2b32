package repository

import (
	"context"
	"errors"
	"time"

	"github.com/lib/pq"
)

// ErrDuplicate はユニーク制約違反を表す。
// 呼び出し側はこれを想定内の結果として扱う（短縮コードの再生成、ユーザー名重複の通知）。
var ErrDuplicate = errors.New("duplicate key")

// uniqueViolation はPostgreSQLのunique_violationのSQLSTATE。
const uniqueViolation = "23505"

// isUniqueViolation はエラーがユニーク制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}

// 再試行しても結果が変わらないPostgreSQLのエラークラス。
const (
	classDataException       = "22"
	classIntegrityConstraint = "23"
)

// IsPermanent はエラーが入力値または制約に起因し、再試行しても成功しないかどうかを判定する。
// 不正なUUID（22P02）や外部キー違反（23503）が該当する。接続断やタイムアウトは一時的とみなす。
func IsPermanent(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch string(pqErr.Code.Class()) {
	case classDataException, classIntegrityConstraint:
		return true
	}
	return false
}

// withTimeout はストア呼び出し用のタイムアウト付きコンテキストを返す。
// timeoutが0以下の場合は親コンテキストをそのまま使う。
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
