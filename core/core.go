// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package core

import (
	"encoding/json"
	"fmt"
)

// Operation represents an outbound platform operation, one of Create, Read, Update,
// Delete, List, Invoke. Invoke is a stored-procedure call on the data API.
type Operation string

// all supported outbound operations
const (
	OperationCreate Operation = "create"
	OperationRead   Operation = "read"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
	OperationList   Operation = "list"
	OperationInvoke Operation = "invoke"
)

// UnmarshalJSON is a custom JSON unmarshaller
func (o *Operation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*o = Operation(s)
	switch *o {
	case OperationCreate, OperationRead, OperationUpdate, OperationDelete, OperationList, OperationInvoke:
		return nil
	default:
		return fmt.Errorf("%s is not valid Operation", s)
	}
}
