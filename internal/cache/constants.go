package cache

import (
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

// key names definition
// key names in lua script should follow these formats
const (
	UploadKey       = "upload:%s"            // temporary upload bytes, '%s' is the upload token
	ChargeLockKey   = "order:%s:charge:lock" // charge lock of an order, '%s' is order identifier
	EventSpeakerKey = "event:%d:speakers"    // cached speaker list of an event, '%d' is event id
)

func MakeUploadKey(token string) string {
	return fmt.Sprintf(UploadKey, token)
}

func MakeChargeLockKey(orderIdentifier string) string {
	return fmt.Sprintf(ChargeLockKey, orderIdentifier)
}

func MakeEventSpeakerKey(eventID uint) string {
	return fmt.Sprintf(EventSpeakerKey, eventID)
}

// errors
var (
	ErrLockHeld       = errors.New("lock is held by another owner")
	ErrUploadNotFound = errors.New("upload not found or expired")
	ErrCacheMiss      = errors.New("cache miss")
)

// lua scripts
var releaseLockScript = redis.NewScript(`
	-- KEYS[1] = order:{identifier}:charge:lock
	-- ARGV[1] = owner token

	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)
