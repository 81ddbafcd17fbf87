package domain

// RoomID identifies a session room. It is derived upstream from the booking
// identifier and treated as opaque here.
type RoomID string

// MaxRoomMembers bounds a room to the two parties of a session.
const MaxRoomMembers = 2
