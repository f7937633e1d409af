package domain

import (
	"fmt"
	"time"
)

// DedupeWindow es el ancho fijo del bucket. La rejilla está alineada a epoch,
// no es una ventana deslizante por remitente.
const DedupeWindow = 15 * time.Minute

// AnonymousBasis se usa cuando no hay deviceId ni ip.
const AnonymousBasis = "anonymous"

// DedupeBasis elige la identidad: deviceId, si no ip, si no "anonymous".
func DedupeBasis(deviceID, ip string) string {
	if deviceID != "" {
		return deviceID
	}
	if ip != "" {
		return ip
	}
	return AnonymousBasis
}

// DedupeBucket = floor(epochMillis / windowMillis).
func DedupeBucket(now time.Time) int64 {
	ms := now.UnixMilli()
	w := DedupeWindow.Milliseconds()
	b := ms / w
	if ms < 0 && ms%w != 0 {
		b--
	}
	return b
}

// DedupeBucketEnd devuelve el instante en que termina el bucket de now.
func DedupeBucketEnd(now time.Time) time.Time {
	return time.UnixMilli((DedupeBucket(now) + 1) * DedupeWindow.Milliseconds()).UTC()
}

// BuildDedupeKey produce "{formId}:{basis}:{bucket}". No valida formId.
func BuildDedupeKey(formID, deviceID, ip string, now time.Time) string {
	return fmt.Sprintf("%s:%s:%d", formID, DedupeBasis(deviceID, ip), DedupeBucket(now))
}
