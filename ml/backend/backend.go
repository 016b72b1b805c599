package backend

import (
	_ "github.com/7blacky7/qnnrt/ml/backend/reference"
)
