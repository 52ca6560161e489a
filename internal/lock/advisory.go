package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeldElsewhere лок за этим именем уже держит другая реплика.
// Ожидаемая ситуация в мульти-инстанс развёртывании: цикл просто
// пропускается, следующая попытка — на следующем тике.
var ErrHeldElsewhere = errors.New("advisory lock held by another instance")

// Снимаем лок только если токен совпал: реплика не может освободить
// чужой лок, даже если её собственный уже истёк и был перезахвачен
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// AdvisoryLocker распределённый advisory-лок на Redis с авто-истечением.
// TTL должен быть строго больше ожидаемой длительности цикла свипера.
type AdvisoryLocker struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewAdvisoryLocker(client redis.Cmdable, ttl time.Duration) *AdvisoryLocker {
	return &AdvisoryLocker{client: client, ttl: ttl}
}

// Lease захваченный лок с токеном владения
type Lease struct {
	locker *AdvisoryLocker
	key    string
	token  string
}

// Acquire пытается захватить лок для задачи jobName.
// SET NX PX: либо лок наш целиком на ttl, либо ErrHeldElsewhere.
func (l *AdvisoryLocker) Acquire(ctx context.Context, jobName string) (*Lease, error) {
	key := "sweep_lock:" + jobName
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire advisory lock %s: %w", jobName, err)
	}
	if !ok {
		return nil, ErrHeldElsewhere
	}

	return &Lease{locker: l, key: key, token: token}, nil
}

// Release отпускает лок, если токен всё ещё наш
func (ls *Lease) Release(ctx context.Context) error {
	err := ls.locker.client.Eval(ctx, releaseScript, []string{ls.key}, ls.token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release advisory lock: %w", err)
	}
	return nil
}
