package domain

import "strconv"

// Segment is a bounded chunk of VM execution trace emitted by the
// executor. The executor emits indices contiguously starting at 0 for a
// given job; neither this type nor the Segment Writer checks it.
type Segment struct {
	Index int
	Body  []byte
}

// KeccakRequest is a coprocessor invocation emitted synchronously during
// execution. The counter (N) is assigned by the Coprocessor Sidecar when
// the request is drained from the queue, not when it is produced.
type KeccakRequest struct {
	ClaimDigest string
	ControlRoot string
	Po2         uint32
	Input       []byte
}

// CacheKey helpers centralize the Hot Cache / Blob Store key formats from
// the external interfaces section, so every component builds keys the
// same way.
func SegmentCacheKey(jobID string, index int) string {
	return "job:" + jobID + ":segments:" + strconv.Itoa(index)
}

func ImageIDCacheKey(jobID string) string {
	return "job:" + jobID + ":image_id"
}

func ReceiptCacheKey(jobID, claimDigest string) string {
	return "job:" + jobID + ":receipts:" + claimDigest
}

func CoprocCacheKey(jobID, claimDigest string) string {
	return "job:" + jobID + ":coproc:" + claimDigest
}

func JournalCacheKey(jobID string) string {
	return "job:" + jobID + ":journal"
}

func ExecLogBlobKey(jobID string) string {
	return "exec_logs/" + jobID + ".log"
}

func PreflightJournalBlobKey(jobID string) string {
	return "preflight_journals/" + jobID + ".bin"
}

func ImageBlobKey(imageKey string) string {
	return "elf/" + imageKey
}

func InputBlobKey(inputKey string) string {
	return "input/" + inputKey
}

func AssumptionBlobKey(id string) string {
	return "receipts/stark/" + id + ".bincode"
}
