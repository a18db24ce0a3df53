package artifacts

import "os"

// ReadOrEmpty reads path, returning "" (not an error) when it does not
// exist yet — every markdown artifact this package edits may be absent on
// a fresh repository.
func ReadOrEmpty(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}
