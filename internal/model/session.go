package model

type action int

const (
	DefaultAction action = iota
	ExpectingNewTransaction
	ExpectingCloseDetails
	ExpectingDeleteID
	ExpectingTopUpDetails
)

type Session struct {
	Action action
}
