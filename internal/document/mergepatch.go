package document

// MergePatch applies patch to target with JSON-merge-patch rules:
// an object patch is merged key by key (recursively), a null member deletes the
// key, anything else (arrays included) replaces the target wholesale.
// Neither argument is modified.
func MergePatch(target, patch any) any {
	p, ok := patch.(*Doc)
	if !ok {
		return cloneValue(patch)
	}
	var out *Doc
	if t, ok := target.(*Doc); ok && t != nil {
		out = t.Clone()
	} else {
		out = New()
	}
	for _, k := range p.keys {
		pv := p.values[k]
		if pv == nil {
			out.Delete(k)
			continue
		}
		cur, _ := out.Get(k)
		out.Set(k, MergePatch(cur, pv))
	}
	return out
}

// MergeDoc is MergePatch for the common object/object case.
func MergeDoc(target, patch *Doc) *Doc {
	return MergePatch(target, patch).(*Doc)
}
