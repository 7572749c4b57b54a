package toolops

import "github.com/google/uuid"

var zeroUUID uuid.UUID

func parseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}
