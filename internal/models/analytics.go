package models

import "strconv"

const DateLayout = "2006-01-02"

// AnalyticsRecord aggregates finished downloads for one (date, platform, user) key.
type AnalyticsRecord struct {
	Date             string   `json:"date"`
	Platform         Platform `json:"platform"`
	UserID           int64    `json:"user_id"`
	Succeeded        int      `json:"succeeded"`
	Failed           int      `json:"failed"`
	Bytes            int64    `json:"bytes"`
	ProcessingMillis int64    `json:"processing_ms"`
}

func (r AnalyticsRecord) Key() string {
	return AnalyticsKey(r.Date, r.Platform, r.UserID)
}

func AnalyticsKey(date string, platform Platform, userID int64) string {
	return date + "|" + string(platform) + "|" + strconv.FormatInt(userID, 10)
}

// Add merges the counters of other into r.
func (r *AnalyticsRecord) Add(other AnalyticsRecord) {
	r.Succeeded += other.Succeeded
	r.Failed += other.Failed
	r.Bytes += other.Bytes
	r.ProcessingMillis += other.ProcessingMillis
}

func (r AnalyticsRecord) Total() int {
	return r.Succeeded + r.Failed
}

// NewAnalyticsRecord builds the delta for one finished request.
func NewAnalyticsRecord(req *DownloadRequest) AnalyticsRecord {
	at := req.CreatedAt
	if req.CompletedAt != nil {
		at = *req.CompletedAt
	}
	rec := AnalyticsRecord{
		Date:             at.UTC().Format(DateLayout),
		Platform:         req.Platform,
		UserID:           req.UserID,
		Bytes:            req.TotalSize,
		ProcessingMillis: int64(req.ProcessingTime * 1000),
	}
	if req.Status == StatusSucceeded {
		rec.Succeeded = 1
	} else {
		rec.Failed = 1
	}
	return rec
}
