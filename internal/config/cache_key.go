package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// CatalogPayloadKey returns the cache key for an assessment's question catalog
func (r *CacheKeyStruct) CatalogPayloadKey(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:catalog", assessmentID)
}

// SubjectAnswersKey returns the hash key holding a subject's autosaved answers
func (r *CacheKeyStruct) SubjectAnswersKey(assessmentID string, subjectID int) string {
	return fmt.Sprintf("subject:%d:assessment:%s:answers", subjectID, assessmentID)
}

// LiveSessionKey returns the lock key for a subject's live session on an assessment
func (r *CacheKeyStruct) LiveSessionKey(assessmentID string, subjectID int) string {
	return fmt.Sprintf("subject:%d:assessment:%s:live", subjectID, assessmentID)
}

// SubjectAppliedKey caches a positive application lookup
func (r *CacheKeyStruct) SubjectAppliedKey(jobID string, subjectID int) string {
	return fmt.Sprintf("subject:%d:job:%s:applied", subjectID, jobID)
}

var CacheKey = NewCacheKeyStruct()
