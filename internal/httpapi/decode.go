// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

const maxBodySize = 1 << 20

var errInvalidNumber = errors.New("not a finite number")

// decodeBody reads a JSON object or a urlencoded form into a field map. An
// empty body yields an empty map.
func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]interface{}, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	out := make(map[string]interface{})

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("parse form: %w", err)
		}
		for k, v := range r.PostForm {
			if len(v) > 0 {
				out[k] = v[0]
			}
		}
		return out, nil
	}

	if err := json.NewDecoder(r.Body).Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return out, nil
}

// toInt accepts JSON numbers and base 10 strings.
func toInt(v interface{}) (int, error) {
	if s, ok := v.(string); ok {
		return strconv.Atoi(strings.TrimSpace(s))
	}
	if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return 0, errInvalidNumber
	}
	return cast.ToIntE(v)
}

// toSeconds converts a number of seconds into a duration.
func toSeconds(v interface{}) (time.Duration, error) {
	if s, ok := v.(string); ok {
		v = strings.TrimSpace(s)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt64/float64(time.Second) {
		return 0, errInvalidNumber
	}
	return time.Duration(f * float64(time.Second)), nil
}

// toBool accepts booleans, numbers and the strings understood by
// strconv.ParseBool.
func toBool(v interface{}) (bool, error) {
	if s, ok := v.(string); ok {
		v = strings.TrimSpace(s)
	}
	return cast.ToBoolE(v)
}

func toString(v interface{}) (string, error) {
	switch v.(type) {
	case map[string]interface{}, []interface{}, nil:
		return "", fmt.Errorf("unable to use %T as a string", v)
	}
	return cast.ToStringE(v)
}
