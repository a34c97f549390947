package osticketest

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

// PNG encodes a solid image of the given size.
func PNG(width, height int, c color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	err := png.Encode(&buf, img)
	if err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// SampleTickets returns the tickets most tests start from: two open tickets
// from Jane Doe around one from John Smith, and a closed one.
func SampleTickets() []*Ticket {
	return []*Ticket{
		{
			ID:        "339",
			Number:    "128001",
			Subject:   "Issue",
			Requester: "Jane Doe",
			Email:     "jane@example.com",
			Status:    StatusOpen,
			Created:   "1/15/24 9:30 AM",
			Thread: []Entry{
				{
					Kind:   "message",
					Author: "Jane Doe",
					Posted: "1/15/24 9:30 AM",
					Body:   "I paid the invoice yesterday.<br>Receipt attached.",
					Files: []File{
						{Name: "invoice.pdf", Key: "k-invoice", Content: []byte("%PDF-1.4 fake invoice")},
						{Name: "scan.png", Key: "k-scan-1", Content: PNG(4, 3, color.White)},
						{Name: "scan.png", Key: "k-scan-2", Content: PNG(3, 4, color.Black)},
					},
					Inline: []File{
						{Name: "", Key: "k-inline", Content: PNG(2, 2, color.Gray{Y: 128})},
					},
				},
				{
					Kind:   "response",
					Author: "Agent",
					Posted: "1/15/24 10:02 AM",
					Body:   "Thanks, we are checking it.",
				},
			},
		},
		{
			ID:        "340",
			Number:    "128002",
			Subject:   "Printer jam",
			Requester: "John Smith",
			Email:     "john@example.com",
			Status:    StatusOpen,
			Created:   "1/16/24 2:05 PM",
			Thread: []Entry{
				{Kind: "message", Author: "John Smith", Posted: "1/16/24 2:05 PM", Body: "The printer on floor 2 is jammed."},
			},
		},
		{
			ID:        "341",
			Number:    "128003",
			Subject:   "Second payment",
			Requester: "Jane Doe",
			Email:     "jane@example.com",
			Status:    StatusOpen,
			Created:   "1/17/24 8:00 AM",
			Thread: []Entry{
				{
					Kind:   "message",
					Author: "Jane Doe",
					Posted: "1/17/24 8:00 AM",
					Body:   "Another one.",
					Files: []File{
						{Name: "broken.pdf", Key: "k-broken", Content: []byte("%PDF"), Fail: true},
					},
				},
			},
		},
		{
			ID:        "200",
			Number:    "127900",
			Subject:   "Old request",
			Requester: "Alice Brown",
			Email:     "alice@example.com",
			Status:    StatusClosed,
			Created:   "12/1/23 11:15 AM",
			Thread: []Entry{
				{Kind: "message", Author: "Alice Brown", Posted: "12/1/23 11:15 AM", Body: "Done long ago."},
			},
		},
	}
}
