// This file is part of go-mc/server project.
// Copyright (C) 2023.  Tnze
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Йоу, чат! Список в'юерів. Порядок оновлення стабільний - за порядком
// приєднання, тож ближчі запити першої камери не залежать від мапи.

package game

import (
	"errors"

	"AtlasCore/atlas"
)

type viewerList struct {
	byID  map[atlas.Requester]*atlas.Viewer
	order []*atlas.Viewer
}

func newViewerList() viewerList {
	return viewerList{byID: make(map[atlas.Requester]*atlas.Viewer)}
}

func (vl *viewerList) add(v *atlas.Viewer) {
	vl.byID[v.ID()] = v
	vl.order = append(vl.order, v)
}

func (vl *viewerList) remove(v *atlas.Viewer) bool {
	if _, ok := vl.byID[v.ID()]; !ok {
		return false
	}
	delete(vl.byID, v.ID())
	for i, o := range vl.order {
		if o == v {
			vl.order = append(vl.order[:i], vl.order[i+1:]...)
			break
		}
	}
	return true
}

func (vl *viewerList) len() int { return len(vl.order) }

// update оновлює кожного в'юера, помилки зводить докупи
func (vl *viewerList) update() error {
	var errs []error
	for _, v := range vl.order {
		if err := v.Update(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (vl *viewerList) closeAll() error {
	var errs []error
	for _, v := range vl.order {
		errs = append(errs, v.Close())
	}
	clear(vl.byID)
	vl.order = nil
	return errors.Join(errs...)
}
