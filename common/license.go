// Copyright 2024 The apollo-sequencer Authors
// This file is part of the apollo-sequencer library.
//
// The apollo-sequencer library is free software: you can redistribute it
// and/or modify it under the terms of the GNU Lesser General Public License
// as published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

// Package common holds the wire types shared by every subsystem: field
// elements, addresses, block numbers and the nonce/resource-bound types
// transactions are built from.
package common
