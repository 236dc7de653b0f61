package chatbus

import "encoding/json"

func encodeLine(l Line) ([]byte, error) {
	return json.Marshal(l)
}
