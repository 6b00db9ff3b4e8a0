package player

// Item предмет инвентаря. Предметы с одинаковым ID складываются в стопку,
// если они стакаются.
type Item struct {
	ID          string            `msgpack:"id" yaml:"id"`
	Name        string            `msgpack:"name" yaml:"name"`
	Description string            `msgpack:"description" yaml:"description"`
	Stackable   bool              `msgpack:"stackable" yaml:"stackable"`
	Count       int32             `msgpack:"count" yaml:"count"`
	Custom      map[string]string `msgpack:"custom,omitempty" yaml:"custom"`
}

// TryCombine пытается добавить other в эту стопку
func (it *Item) TryCombine(other Item) bool {
	if it.ID != other.ID || !it.Stackable {
		return false
	}
	it.Count += other.Count
	return true
}

// TrySplit отделяет count предметов в новую стопку.
// Опустошить исходную стопку нельзя.
func (it *Item) TrySplit(count int32) (Item, bool) {
	if !it.Stackable || count <= 0 || it.Count <= count {
		return Item{}, false
	}
	split := *it
	split.Count = count
	it.Count -= count
	return split, true
}

// AddItem кладёт предмет в инвентарь, объединяя со стопкой при возможности
func (r *Record) AddItem(item Item) {
	if item.Count <= 0 {
		item.Count = 1
	}
	for i := range r.Items {
		if r.Items[i].TryCombine(item) {
			return
		}
	}
	r.Items = append(r.Items, item)
}

// CountItem возвращает общее количество предметов с данным ID
func (r *Record) CountItem(id string) int32 {
	var n int32
	for _, it := range r.Items {
		if it.ID == id {
			n += it.Count
		}
	}
	return n
}

// TakeItem забирает count предметов с данным ID.
// Если предметов не хватает, инвентарь не меняется.
func (r *Record) TakeItem(id string, count int32) bool {
	if count <= 0 || r.CountItem(id) < count {
		return false
	}
	kept := r.Items[:0]
	for _, it := range r.Items {
		if it.ID == id && count > 0 {
			if it.Count <= count {
				count -= it.Count
				continue
			}
			it.Count -= count
			count = 0
		}
		kept = append(kept, it)
	}
	r.Items = kept
	return true
}
