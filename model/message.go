package model

import "io"

// Message is one mailbox entry as seen by a processing cycle: its UID in the
// source mailbox, a few envelope fields and the leaf parts of its MIME tree.
// UIDValidity is zero for sources without one.
type Message struct {
	UID         uint32
	UIDValidity uint32
	MessageID   string
	From        string
	Subject     string
	Parts       []Part
}

// Part references a downloadable leaf of a message by its IMAP part path
// ("1", "2.1", ...) and the filename declared in its disposition. Size is the
// decoded size, estimated when the source only knows the encoded one.
type Part struct {
	Path     string
	Filename string
	Size     int64
	Encoding string
}

// Download is the decoded content of one part. Size is the number of bytes
// Content yields.
type Download struct {
	Filename string
	Size     int64
	Content  io.ReadCloser
}
