package service

import (
	"fmt"
	"time"
)

// storagePath builds {owner}/{yyyy}/{mm}/{id}.{ext}. No user-supplied filename ever reaches it.
func storagePath(ownerID, documentID, ext string, at time.Time) string {
	at = at.UTC()
	p := fmt.Sprintf("%s/%04d/%02d/%s", ownerID, at.Year(), int(at.Month()), documentID)
	if ext != "" {
		p += "." + ext
	}
	return p
}
