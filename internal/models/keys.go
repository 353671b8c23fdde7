package models

import "fmt"

type SessionKey struct {
	SubjectID string
	Session   int
}

func (k SessionKey) String() string {
	return fmt.Sprintf("%s/%d", k.SubjectID, k.Session)
}

type TrialKey struct {
	SubjectID string
	Session   int
	Trial     int
}

func (k TrialKey) SessionKey() SessionKey {
	return SessionKey{SubjectID: k.SubjectID, Session: k.Session}
}

// InsertionKey identifies one probe placement within a session.
type InsertionKey struct {
	SubjectID       string
	Session         int
	InsertionNumber int
}

func (k InsertionKey) SessionKey() SessionKey {
	return SessionKey{SubjectID: k.SubjectID, Session: k.Session}
}

func (k InsertionKey) String() string {
	return fmt.Sprintf("%s/%d/%d", k.SubjectID, k.Session, k.InsertionNumber)
}

type ClusteringKey struct {
	InsertionKey
	ClusteringMethod string
}

func (k ClusteringKey) String() string {
	return k.InsertionKey.String() + "/" + k.ClusteringMethod
}

// PhotostimKey identifies one photostim protocol of a session.
type PhotostimKey struct {
	SubjectID string
	Session   int
	PhotoStim int
}
